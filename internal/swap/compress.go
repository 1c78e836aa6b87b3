package swap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Method identifies a payload encoding in a tile record.
type Method uint8

const (
	MethodRaw Method = iota
	MethodRLE
	MethodZstd
)

func (m Method) String() string {
	switch m {
	case MethodRaw:
		return "raw"
	case MethodRLE:
		return "rle"
	case MethodZstd:
		return "zstd"
	}
	return fmt.Sprintf("method(%d)", uint8(m))
}

// ParseMethod maps a configuration name to a Method.
func ParseMethod(name string) (Method, error) {
	switch name {
	case "raw", "none":
		return MethodRaw, nil
	case "rle", "":
		return MethodRLE, nil
	case "zstd":
		return MethodZstd, nil
	}
	return 0, fmt.Errorf("swap: unknown compression %q", name)
}

// Compressor encodes tile payloads.
//
// Decompress must fill dst completely; producing a different number of
// bytes is reported as ErrFormat.
type Compressor interface {
	Method() Method
	Compress(dst, src []byte) []byte
	Decompress(dst, src []byte) error
}

// ErrFormat reports a malformed or inconsistent tile record or stream.
var ErrFormat = errors.New("swap: bad tile format")

// CompressorFor returns the compressor implementing m.
func CompressorFor(m Method) (Compressor, error) {
	switch m {
	case MethodRaw:
		return Raw{}, nil
	case MethodRLE:
		return RLE{}, nil
	case MethodZstd:
		return Zstd{}, nil
	}
	return nil, fmt.Errorf("%w: unknown method %d", ErrFormat, uint8(m))
}

// Raw stores payloads verbatim.
type Raw struct{}

func (Raw) Method() Method { return MethodRaw }

func (Raw) Compress(dst, src []byte) []byte { return append(dst[:0], src...) }

func (Raw) Decompress(dst, src []byte) error {
	if len(src) != len(dst) {
		return fmt.Errorf("%w: raw payload is %d bytes, want %d", ErrFormat, len(src), len(dst))
	}
	copy(dst, src)
	return nil
}

// RLE is PackBits run-length encoding. A control byte c in [0,127] is
// followed by c+1 literal bytes; c in [129,255] repeats the next byte
// 257-c times.
type RLE struct{}

func (RLE) Method() Method { return MethodRLE }

func (RLE) Compress(dst, src []byte) []byte {
	dst = dst[:0]
	for i := 0; i < len(src); {
		run := 1
		for i+run < len(src) && run < 128 && src[i+run] == src[i] {
			run++
		}
		if run >= 3 {
			dst = append(dst, byte(257-run), src[i])
			i += run
			continue
		}
		start := i
		for i < len(src) && i-start < 128 {
			if i+2 < len(src) && src[i] == src[i+1] && src[i] == src[i+2] {
				break
			}
			i++
		}
		dst = append(dst, byte(i-start-1))
		dst = append(dst, src[start:i]...)
	}
	return dst
}

func (RLE) Decompress(dst, src []byte) error {
	n := 0
	for i := 0; i < len(src); {
		c := int(src[i])
		i++
		switch {
		case c < 128:
			cnt := c + 1
			if i+cnt > len(src) || n+cnt > len(dst) {
				return fmt.Errorf("%w: rle literal overruns buffer", ErrFormat)
			}
			copy(dst[n:], src[i:i+cnt])
			i += cnt
			n += cnt
		case c > 128:
			cnt := 257 - c
			if i >= len(src) || n+cnt > len(dst) {
				return fmt.Errorf("%w: rle run overruns buffer", ErrFormat)
			}
			b := src[i]
			i++
			for j := range cnt {
				dst[n+j] = b
			}
			n += cnt
		}
	}
	if n != len(dst) {
		return fmt.Errorf("%w: rle produced %d bytes, want %d", ErrFormat, n, len(dst))
	}
	return nil
}

var (
	zstdEncPool = sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
			return enc
		},
	}
	zstdDecPool = sync.Pool{
		New: func() any {
			dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
			return dec
		},
	}
)

// Zstd compresses payloads with Zstandard.
type Zstd struct{}

func (Zstd) Method() Method { return MethodZstd }

func (Zstd) Compress(dst, src []byte) []byte {
	enc := zstdEncPool.Get().(*zstd.Encoder)
	defer zstdEncPool.Put(enc)
	return enc.EncodeAll(src, dst[:0])
}

func (Zstd) Decompress(dst, src []byte) error {
	dec := zstdDecPool.Get().(*zstd.Decoder)
	defer zstdDecPool.Put(dec)
	out, err := dec.DecodeAll(src, dst[:0])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFormat, err)
	}
	if len(out) != len(dst) {
		return fmt.Errorf("%w: zstd produced %d bytes, want %d", ErrFormat, len(out), len(dst))
	}
	if &out[0] != &dst[0] {
		copy(dst, out)
	}
	return nil
}

// linearize reorders interleaved pixels so each channel is contiguous.
func linearize(dst, src []byte, pixelSize int) {
	n := len(src) / pixelSize
	for c := range pixelSize {
		base := c * n
		for i := range n {
			dst[base+i] = src[i*pixelSize+c]
		}
	}
}

// delinearize reverses linearize.
func delinearize(dst, src []byte, pixelSize int) {
	n := len(src) / pixelSize
	for c := range pixelSize {
		base := c * n
		for i := range n {
			dst[i*pixelSize+c] = src[base+i]
		}
	}
}
