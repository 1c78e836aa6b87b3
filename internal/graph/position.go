package graph

import "strings"

// Position describes a node relative to the node an update started from.
// It combines one stacking flag (Topmost, Bottommost or neither) with one
// filthiness flag.
type Position uint8

// Position flags.
const (
	Normal     Position = 0
	Topmost    Position = 1 << 0
	Bottommost Position = 1 << 1

	// Extra marks nodes refreshed as a whole by a full refresh.
	Extra Position = 1 << 2
	// AboveFilthy nodes are stacked above the changed node; their own
	// content did not change.
	AboveFilthy Position = 1 << 3
	// FilthyProjection nodes keep their original but need their
	// projection recomputed because one of their masks changed.
	FilthyProjection Position = 1 << 5
	// Filthy nodes had their original changed.
	Filthy Position = 1 << 6
	// BelowFilthy nodes are only read while composing the dirty area.
	BelowFilthy Position = 1 << 7
)

const stackingMask = Topmost | Bottommost

// Stacking returns only the stacking flag of p.
func (p Position) Stacking() Position { return p & stackingMask }

// Filthiness returns p without its stacking flag.
func (p Position) Filthiness() Position { return p &^ stackingMask }

// Code returns a two-letter code: T, B or N for the stacking, then
// A, F, P, B or E for the filthiness.
func (p Position) Code() string {
	var b [2]byte
	switch {
	case p&Topmost != 0:
		b[0] = 'T'
	case p&Bottommost != 0:
		b[0] = 'B'
	default:
		b[0] = 'N'
	}
	switch {
	case p&AboveFilthy != 0:
		b[1] = 'A'
	case p&Filthy != 0:
		b[1] = 'F'
	case p&FilthyProjection != 0:
		b[1] = 'P'
	case p&BelowFilthy != 0:
		b[1] = 'B'
	case p&Extra != 0:
		b[1] = 'E'
	default:
		b[1] = '?'
	}
	return string(b[:])
}

func (p Position) String() string {
	var parts []string
	for _, f := range []struct {
		flag Position
		name string
	}{
		{Topmost, "topmost"},
		{Bottommost, "bottommost"},
		{Extra, "extra"},
		{AboveFilthy, "above-filthy"},
		{FilthyProjection, "filthy-projection"},
		{Filthy, "filthy"},
		{BelowFilthy, "below-filthy"},
	} {
		if p&f.flag != 0 {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "normal"
	}
	return strings.Join(parts, "|")
}
