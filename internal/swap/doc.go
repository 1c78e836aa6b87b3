// Package swap serializes tiles for persistence and memory-pressure swapping.
//
// A Codec turns one tile buffer into a self-describing record: position,
// dimensions, pixel size, compression method and payload. Payloads are
// linearized per channel before compression, which turns the smooth
// gradients typical of paintings into long byte runs.
//
// WriteStore and ReadStore stream a whole tiles.Store with a short text
// header. Manager implements tiles.Swapper on top of a BlobStore, keeping
// recently evicted blobs in a compressed memory tier first.
package swap
