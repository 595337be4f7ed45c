// Package cache implements a size-bounded in-memory response cache.
//
// Entries are indexed by a request fingerprint and stored in sharded maps, so
// lookups for unrelated keys never contend. Populating an entry goes through a
// Writer obtained from BeginPopulate; at most one Writer exists per key, and
// an entry becomes visible only after a successful Commit. Readers therefore
// see either no entry or a complete one.
//
// Two limits apply, both swapped atomically by Reload:
//
//   - MaxFileSize bounds a single entry. A declared length above it is
//     rejected before any byte is buffered; a streamed body is discarded as
//     soon as it grows past it.
//   - MaxSize bounds the sum of all entries. Commit evicts least recently used
//     entries until the new one fits.
//
// Zero means unbounded for either limit.
package cache
