// Package cache implements the two storage tiers behind the image loader:
// a weakly-held in-memory map of decoded images and a flat on-disk store of
// encoded payloads, one file per cache key. The disk tier uses the file's
// ModTime as the entire freshness state: entries younger than the recheck
// age are trusted as-is, older entries are revalidated against the remote
// authority before reuse, and a separate on-demand sweep removes entries
// past the much larger expiration age. Writes go through a temp file plus
// rename so a failed Put never corrupts an existing entry.
package cache
