// Package server exposes the cache over HTTP: GET /image fetches a remote
// image through the two-tier cache and streams the encoded payload back,
// while the /-/ routes cover diagnostics and operations (health, stats,
// on-demand expiration sweep, memory-tier clear). Every request gets a UUID
// request ID and a structured log line; the loader service is injected
// behind an interface so tests can swap in fakes.
package server
