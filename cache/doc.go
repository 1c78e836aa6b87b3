// Package cache provides a sharded LRU cache with an eviction hook.
//
// The swap layer keeps recently swapped-out tile blobs in a ShardedCache so
// that a tile touched again shortly after being evicted from memory can be
// restored without a round trip to the backing store. Entries pushed out of
// a shard by capacity pressure are handed to the OnEvict callback, which is
// where the swap layer writes them through to disk.
//
// The filter package also keeps its Gaussian kernels here, keyed by radius.
package cache
