package swap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gogpu/tiled/internal/tiles"
)

// recordHeaderSize is col, row (int32), width, height, pixel size (uint16),
// method (uint8) and payload length (uint32).
const recordHeaderSize = 4 + 4 + 2 + 2 + 2 + 1 + 4

// Record is one decoded tile.
type Record struct {
	Key       tiles.Key
	PixelSize int
	Method    Method
	Pixels    []byte
}

// BytesUsed is the size of the decoded pixel buffer.
func (r Record) BytesUsed() int { return len(r.Pixels) }

// Codec encodes tiles with one compressor. A Codec is safe for concurrent use.
type Codec struct {
	comp Compressor
}

// NewCodec returns a codec compressing with c. A nil c selects RLE.
func NewCodec(c Compressor) *Codec {
	if c == nil {
		c = RLE{}
	}
	return &Codec{comp: c}
}

// Method returns the compression method the codec writes.
func (c *Codec) Method() Method { return c.comp.Method() }

// Encode appends the record for one tile to dst. Payloads that do not
// shrink under compression are stored raw.
func (c *Codec) Encode(dst []byte, k tiles.Key, pixels []byte, pixelSize int) []byte {
	if len(pixels) != tiles.TilePixels*pixelSize {
		panic(fmt.Sprintf("swap: tile buffer is %d bytes, want %d", len(pixels), tiles.TilePixels*pixelSize))
	}
	lin := make([]byte, len(pixels))
	linearize(lin, pixels, pixelSize)

	method := c.comp.Method()
	payload := c.comp.Compress(make([]byte, 0, len(pixels)/2), lin)
	if method != MethodRaw && len(payload) >= len(pixels) {
		method, payload = MethodRaw, lin
	}

	var hdr [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(int32(k.Col)))  //nolint:gosec // tile indices fit in 32 bits
	binary.LittleEndian.PutUint32(hdr[4:], uint32(int32(k.Row)))  //nolint:gosec // tile indices fit in 32 bits
	binary.LittleEndian.PutUint16(hdr[8:], tiles.TileWidth)
	binary.LittleEndian.PutUint16(hdr[10:], tiles.TileHeight)
	binary.LittleEndian.PutUint16(hdr[12:], uint16(pixelSize)) //nolint:gosec // pixel sizes are small
	hdr[14] = byte(method)
	binary.LittleEndian.PutUint32(hdr[15:], uint32(len(payload))) //nolint:gosec // bounded by tile size
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// WriteTile writes the record for one tile to w.
func (c *Codec) WriteTile(w io.Writer, k tiles.Key, pixels []byte, pixelSize int) error {
	_, err := w.Write(c.Encode(nil, k, pixels, pixelSize))
	return err
}

// ReadTile reads one record from r. Any mismatch between declared and
// decoded sizes is ErrFormat.
func ReadTile(r io.Reader) (Record, error) {
	var hdr [recordHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("%w: short header: %w", ErrFormat, err)
	}
	rec := Record{
		Key: tiles.Key{
			Col: int(int32(binary.LittleEndian.Uint32(hdr[0:]))), //nolint:gosec // sign round trip
			Row: int(int32(binary.LittleEndian.Uint32(hdr[4:]))), //nolint:gosec // sign round trip
		},
		PixelSize: int(binary.LittleEndian.Uint16(hdr[12:])),
		Method:    Method(hdr[14]),
	}
	w, h := int(binary.LittleEndian.Uint16(hdr[8:])), int(binary.LittleEndian.Uint16(hdr[10:]))
	if w != tiles.TileWidth || h != tiles.TileHeight {
		return Record{}, fmt.Errorf("%w: tile is %dx%d, want %dx%d", ErrFormat, w, h, tiles.TileWidth, tiles.TileHeight)
	}
	if rec.PixelSize == 0 {
		return Record{}, fmt.Errorf("%w: zero pixel size", ErrFormat)
	}
	size := tiles.TilePixels * rec.PixelSize
	plen := int(binary.LittleEndian.Uint32(hdr[15:]))
	if plen > 2*size+64 {
		return Record{}, fmt.Errorf("%w: payload of %d bytes for a %d-byte tile", ErrFormat, plen, size)
	}
	payload := make([]byte, plen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Record{}, fmt.Errorf("%w: short payload: %w", ErrFormat, err)
	}

	comp, err := CompressorFor(rec.Method)
	if err != nil {
		return Record{}, err
	}
	lin := make([]byte, size)
	if err := comp.Decompress(lin, payload); err != nil {
		return Record{}, err
	}
	rec.Pixels = make([]byte, size)
	delinearize(rec.Pixels, lin, rec.PixelSize)
	return rec, nil
}

// DecodeTile decodes a record produced by Encode.
func DecodeTile(blob []byte) (Record, error) {
	r := bytes.NewReader(blob)
	rec, err := ReadTile(r)
	if err == io.EOF {
		return Record{}, fmt.Errorf("%w: empty record", ErrFormat)
	}
	if err == nil && r.Len() != 0 {
		return Record{}, fmt.Errorf("%w: %d trailing bytes", ErrFormat, r.Len())
	}
	return rec, err
}
