package swap

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gogpu/tiled/internal/tiles"
)

// StreamVersion is written in the header of tile streams.
const StreamVersion = 2

// WriteStore writes every allocated tile of s to w: a text header
//
//	VERSION 2
//	TILEWIDTH 64
//	TILEHEIGHT 64
//	PIXELSIZE n
//	DATA count
//
// followed by count tile records. It returns the number of tiles written.
func WriteStore(w io.Writer, s *tiles.Store, c *Codec) (int, error) {
	if c == nil {
		c = NewCodec(nil)
	}
	bw := bufio.NewWriter(w)
	var (
		keys []tiles.Key
		bufs [][]byte
	)
	// Records are encoded from snapshots so writers are never blocked on I/O.
	s.ForEachTile(func(k tiles.Key, d *tiles.Data) {
		keys = append(keys, k)
		bufs = append(bufs, c.Encode(nil, k, d.Bytes(), s.PixelSize()))
	})

	_, err := fmt.Fprintf(bw, "VERSION %d\nTILEWIDTH %d\nTILEHEIGHT %d\nPIXELSIZE %d\nDATA %d\n",
		StreamVersion, tiles.TileWidth, tiles.TileHeight, s.PixelSize(), len(keys))
	if err != nil {
		return 0, err
	}
	for _, b := range bufs {
		if _, err := bw.Write(b); err != nil {
			return 0, err
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	slogger().Debug("swap: store written", "tiles", len(keys), "method", c.Method())
	return len(keys), nil
}

// ReadStore replaces the tiles of s with a stream written by WriteStore.
// The load is one transaction, committed on success. On error the
// transaction is aborted and s keeps its previous tiles. It returns the
// number of tiles read.
func ReadStore(r io.Reader, s *tiles.Store) (int, error) {
	br := bufio.NewReader(r)
	hdr := []string{"VERSION", "TILEWIDTH", "TILEHEIGHT", "PIXELSIZE", "DATA"}
	vals := make([]int, len(hdr))
	for i, name := range hdr {
		v, err := readHeaderLine(br, name)
		if err != nil {
			return 0, err
		}
		vals[i] = v
	}
	switch {
	case vals[0] != StreamVersion:
		return 0, fmt.Errorf("%w: unsupported version %d", ErrFormat, vals[0])
	case vals[1] != tiles.TileWidth || vals[2] != tiles.TileHeight:
		return 0, fmt.Errorf("%w: tile size %dx%d", ErrFormat, vals[1], vals[2])
	case vals[3] != s.PixelSize():
		return 0, fmt.Errorf("%w: pixel size %d, store uses %d", ErrFormat, vals[3], s.PixelSize())
	case vals[4] < 0:
		return 0, fmt.Errorf("%w: negative tile count", ErrFormat)
	}

	m := s.Begin()
	s.Clear()
	for i := range vals[4] {
		rec, err := ReadTile(br)
		if err == io.EOF {
			err = fmt.Errorf("%w: stream ends after %d of %d tiles", ErrFormat, i, vals[4])
		}
		if err == nil && rec.PixelSize != s.PixelSize() {
			err = fmt.Errorf("%w: tile %v has pixel size %d", ErrFormat, rec.Key, rec.PixelSize)
		}
		if err != nil {
			_ = s.Abort(m)
			return i, err
		}
		s.AddTile(rec.Key.Col, rec.Key.Row, rec.Pixels)
	}
	s.Commit()
	return vals[4], nil
}

func readHeaderLine(br *bufio.Reader, name string) (int, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("%w: missing %s header", ErrFormat, name)
	}
	key, val, ok := strings.Cut(strings.TrimSpace(line), " ")
	if !ok || key != name {
		return 0, fmt.Errorf("%w: expected %s header, got %q", ErrFormat, name, strings.TrimSpace(line))
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%w: %s value %q", ErrFormat, name, val)
	}
	return n, nil
}
