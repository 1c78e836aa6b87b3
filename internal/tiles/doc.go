// Package tiles implements the tiled pixel store behind every editable
// surface.
//
// A Store maps (column, row) keys to 64x64 Tiles. A Tile is a locked slot
// holding a reference-counted Data buffer; buffers are shared between
// stores, transaction history and readers, and a writer clones a buffer
// before mutating it whenever anyone else still holds a reference.
//
// Transactions are recorded in Mementos: the first write to a tile after
// Begin retains the tile's previous buffer, so Rollback can reinstall it
// without copying pixels.
//
// Lock ordering: Store.mu may be taken while holding a Tile lock, never the
// other way round. Transaction operations (Begin, Commit, Rollback,
// Rollforward, SetDefaultPixel and tile removal) are serialized by a
// separate history lock taken before Store.mu.
package tiles
