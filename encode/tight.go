package encode

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/hanumantb/octopus/wire"
)

// TightEncoder is shaped after the Tight encoding: a persistent DEFLATE
// stream carries pixel data across rectangles within a session, so later
// rectangles benefit from the dictionary built by earlier ones. Unlike the
// source's real Tight encoder (palette/JPEG sub-modes, basic filters), this
// implementation always emits the "plain copy filter, zlib compression"
// variant -- enough to exercise SetEncodings negotiation and numCodedRects
// precounting without reimplementing Tight's full sub-encoding selection,
// which is a declared Non-goal.
//
// Zero value is not ready for use; call NewTightEncoder.
type TightEncoder struct {
	zw  *zlib.Writer
	buf bytes.Buffer
}

// NewTightEncoder returns a TightEncoder with a fresh compression stream.
// One instance must be kept per session: the stream's dictionary is
// stateful across calls.
func NewTightEncoder() *TightEncoder {
	var t = &TightEncoder{}
	t.zw = zlib.NewWriter(&t.buf)
	return t
}

// ID implements Encoder.
func (t *TightEncoder) ID() int32 { return wire.EncodingTight }

// NumCodedRects implements Precounter. The source's Tight precounter
// (rfbNumCodedRectsTight) depends on JPEG-mode sub-block splitting
// decisions that are a declared Non-goal here; this encoder always
// declines to precount, always triggering the 0xFFFF/LastRect sentinel
// path for Tight-encoded updates (see SPEC_FULL.md §1, S1).
func (t *TightEncoder) NumCodedRects(fb Framebuffer, x, y, w, h int) uint32 {
	return 0
}

// SendRect implements Encoder: it compresses the rectangle's raw pixels
// through the session's ongoing zlib stream and writes a length-prefixed
// compressed body, in the tight-control-byte + compact-length + payload shape
// the real Tight encoding uses for its "basic" compression control byte 0x00
// (zlib stream 0, no reset).
func (t *TightEncoder) SendRect(fb Framebuffer, sink io.Writer, x, y, w, h int) bool {
	if err := wire.WriteRectHeader(sink, wire.RectHeader{
		X: uint16(x), Y: uint16(y), W: uint16(w), H: uint16(h),
		Encoding: wire.EncodingTight,
	}); err != nil {
		return false
	}

	t.buf.Reset()
	var pixels = fb.ReadRect(x, y, w, h)
	if _, err := t.zw.Write(pixels); err != nil {
		return false
	}
	if err := t.zw.Flush(); err != nil {
		return false
	}

	var compressed = t.buf.Bytes()

	// Tight control byte: low nibble selects compression stream 0, no
	// filter reset requested.
	if _, err := sink.Write([]byte{0x00}); err != nil {
		return false
	}
	if err := writeCompactLength(sink, len(compressed)); err != nil {
		return false
	}
	_, err := sink.Write(compressed)
	return err == nil
}

// Close releases the underlying zlib stream. Call on session teardown.
func (t *TightEncoder) Close() error {
	return t.zw.Close()
}

// writeCompactLength writes n in Tight's variable-length "compact
// representation": 7 bits in each of the first two bytes with a
// continuation bit, 8 bits in the third, up to 3 bytes (covering lengths up
// to 4MB).
func writeCompactLength(w io.Writer, n int) error {
	var buf = []byte{byte(n & 0x7f)}
	if n > 0x7f {
		buf[0] |= 0x80
		buf = append(buf, byte(n>>7&0x7f))
		if n > 0x3fff {
			buf[1] |= 0x80
			buf = append(buf, byte(n>>14&0xff))
		}
	}
	_, err := w.Write(buf)
	return err
}
