package tiles

import "sync"

// DataPool recycles tile buffers, one sync.Pool per pixel size.
//
// Buffers handed out by Get are not cleared: every caller overwrites the
// whole tile (fill or copy) before publishing it.
//
// Thread safety: DataPool is safe for concurrent use.
type DataPool struct {
	pools sync.Map // pixel size -> *sync.Pool of *[]byte

	// rgba is the dedicated pool for 4-byte pixels, the common case.
	rgba sync.Pool
}

// NewDataPool creates an empty pool.
func NewDataPool() *DataPool {
	p := &DataPool{}
	p.rgba.New = func() any {
		b := make([]byte, TilePixels*4)
		return &b
	}
	return p
}

// Get returns a tile-sized buffer for the given pixel size.
func (p *DataPool) Get(pixelSize int) []byte {
	if pixelSize <= 0 {
		panic("tiles: pixel size must be positive")
	}
	if pixelSize == 4 {
		return *(p.rgba.Get().(*[]byte))
	}
	return *(p.poolFor(pixelSize).Get().(*[]byte))
}

// Put returns buf to the pool. Buffers that are not tile-sized are dropped.
func (p *DataPool) Put(buf []byte) {
	if len(buf) == 0 || len(buf)%TilePixels != 0 {
		return
	}
	pixelSize := len(buf) / TilePixels
	if pixelSize == 4 {
		p.rgba.Put(&buf)
		return
	}
	if pool, ok := p.pools.Load(pixelSize); ok {
		pool.(*sync.Pool).Put(&buf)
	}
}

func (p *DataPool) poolFor(pixelSize int) *sync.Pool {
	if pool, ok := p.pools.Load(pixelSize); ok {
		return pool.(*sync.Pool)
	}
	pool := &sync.Pool{
		New: func() any {
			b := make([]byte, TilePixels*pixelSize)
			return &b
		},
	}
	actual, _ := p.pools.LoadOrStore(pixelSize, pool)
	return actual.(*sync.Pool)
}

// defaultPool backs stores created without WithDataPool.
var defaultPool = NewDataPool()
