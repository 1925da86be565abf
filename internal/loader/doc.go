// Package loader is the public entry point of the image cache. It composes
// the memory and disk tiers with an injected downloader and decoder into the
// lookup chain memory → disk (with freshness confirmation) → full fetch →
// disk retry, promoting decoded images into the memory tier when the request
// asks for it. Concurrent loads of the same key share one download via
// singleflight; everything else runs without cross-key blocking.
package loader
