// Package access provides pixel cursors over a tiles.Store.
//
// Every accessor keeps a small most-recently-used cache of tile entries.
// An entry holds the tile's current buffer and the buffer it had when the
// store's open transaction began, so callers can compare before and after
// values in a single pass. Writable accessors keep the tiles they cache
// locked for writing until the entry is evicted or the accessor is closed;
// two writable accessors over the same tiles must not be used from one
// goroutine at the same time.
//
// Accessors are not safe for concurrent use.
package access
