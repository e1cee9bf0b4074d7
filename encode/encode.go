// Package encode implements the Encoder collaborator contract from
// SPEC_FULL.md §1/§6: per-rectangle pixel encoding for the Raw and CopyRect
// baseline encodings, plus a Tight-shaped encoder backed by real DEFLATE
// compression (compress/zlib) so that numCodedRects precounting and the
// LastRect sentinel path are exercised end-to-end. Hextile, RRE, CoRRE, and
// the cursor-shape pixel encodings are Non-goals; their wire identifiers are
// still advertised (see wire.CapsEncodings) but no encoder here implements
// them.
package encode

import (
	"io"

	"github.com/hanumantb/octopus/region"
	"github.com/hanumantb/octopus/wire"
)

// Framebuffer is the pixel-read side of the Framebuffer collaborator
// contract (§6): callers pass it to an Encoder to obtain the raw pixel
// bytes for a rectangle, already translated into the client's negotiated
// PixelFormat.
type Framebuffer interface {
	Width() int
	Height() int
	// ReadRect returns the row-major raw pixel bytes for the given
	// rectangle, in the pixel format the caller's session negotiated.
	ReadRect(x, y, w, h int) []byte
}

// Encoder is the primary-encoding collaborator contract: it writes a
// rectangle header plus encoding-specific body to sink.
type Encoder interface {
	ID() int32
	// SendRect writes the RectHeader and encoded body for the given
	// rectangle to sink. It reports whether the send succeeded; callers
	// treat false the same as a write error (a transport-fatal condition).
	SendRect(fb Framebuffer, sink io.Writer, x, y, w, h int) bool
}

// Precounter is implemented by encoders whose rectangles may expand into
// several sub-rectangles on the wire (CoRRE, Zlib, Tight): the Update
// Builder calls NumCodedRects before committing to a rect count, per §4.C
// step 6. A return of 0 signals "unknown ahead of encoding" and the caller
// must fall back to the 0xFFFF/LastRect sentinel sequence.
type Precounter interface {
	NumCodedRects(fb Framebuffer, x, y, w, h int) uint32
}

// RawEncoder is the mandatory fallback encoding: it sends the rectangle's
// pixels uncompressed.
type RawEncoder struct{}

// ID implements Encoder.
func (RawEncoder) ID() int32 { return wire.EncodingRaw }

// SendRect implements Encoder.
func (RawEncoder) SendRect(fb Framebuffer, sink io.Writer, x, y, w, h int) bool {
	if err := wire.WriteRectHeader(sink, wire.RectHeader{
		X: uint16(x), Y: uint16(y), W: uint16(w), H: uint16(h),
		Encoding: wire.EncodingRaw,
	}); err != nil {
		return false
	}
	var pixels = fb.ReadRect(x, y, w, h)
	_, err := sink.Write(pixels)
	return err == nil
}

// CopyRectEncoder encodes a rectangle already known to be present elsewhere
// in the client's framebuffer, identified by its source origin rather than
// pixel data.
type CopyRectEncoder struct{}

// ID implements Encoder.
func (CopyRectEncoder) ID() int32 { return wire.EncodingCopyRect }

// SendCopyRect writes a CopyRect rectangle: the destination rect header
// followed by the source origin. Unlike SendRect, it does not read pixel
// data from the framebuffer -- the client is expected to already hold it.
func (CopyRectEncoder) SendCopyRect(sink io.Writer, x, y, w, h, srcX, srcY int) bool {
	if err := wire.WriteRectHeader(sink, wire.RectHeader{
		X: uint16(x), Y: uint16(y), W: uint16(w), H: uint16(h),
		Encoding: wire.EncodingCopyRect,
	}); err != nil {
		return false
	}
	err := wire.WriteCopyRectBody(sink, wire.CopyRectBody{SrcX: uint16(srcX), SrcY: uint16(srcY)})
	return err == nil
}

// OrderCopyRects sorts rects into the send order required by §4.C's
// tie-break rule: CopyRects are emitted in horizontal bands sharing y1;
// within a band, iterate opposite the copy's x sign; across bands, iterate
// opposite the copy's y sign. This guarantees an earlier CopyRect never
// overwrites the source pixels of a later one, since source and destination
// differ by the fixed translation (dx, dy).
//
// rects is not mutated; a new ordered slice is returned.
func OrderCopyRects(rects []region.Rect, dx, dy int) []region.Rect {
	var ordered = make([]region.Rect, len(rects))
	copy(ordered, rects)

	// Group into bands sharing Y, in the order bands must be visited.
	var bandOf = func(r region.Rect) int { return r.Y }

	// Stable partial order: primary key is band direction, secondary is
	// within-band x direction. A single sort with a composite less-than
	// implements both without a separate grouping pass.
	var less = func(i, j int) bool {
		var a, b = ordered[i], ordered[j]
		var ba, bb = bandOf(a), bandOf(b)
		if ba != bb {
			if dy <= 0 {
				return ba < bb // top-to-bottom
			}
			return ba > bb // bottom-to-top
		}
		if dx <= 0 {
			return a.X < b.X // ascending
		}
		return a.X > b.X // descending
	}

	insertionSort(ordered, less)
	return ordered
}

func insertionSort(rects []region.Rect, less func(i, j int) bool) {
	for i := 1; i < len(rects); i++ {
		var j = i
		for j > 0 && less(j, j-1) {
			rects[j], rects[j-1] = rects[j-1], rects[j]
			j--
		}
	}
}
