package encode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanumantb/octopus/region"
)

type fakeFramebuffer struct {
	w, h int
	// pix maps (x,y) to a one-byte "color" for test legibility.
	pix map[[2]int]byte
}

func newFakeFramebuffer(w, h int) *fakeFramebuffer {
	var fb = &fakeFramebuffer{w: w, h: h, pix: make(map[[2]int]byte)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			fb.pix[[2]int{x, y}] = byte((x + y) % 251)
		}
	}
	return fb
}

func (f *fakeFramebuffer) Width() int  { return f.w }
func (f *fakeFramebuffer) Height() int { return f.h }

func (f *fakeFramebuffer) ReadRect(x, y, w, h int) []byte {
	var out = make([]byte, 0, w*h)
	for yy := y; yy < y+h; yy++ {
		for xx := x; xx < x+w; xx++ {
			out = append(out, f.pix[[2]int{xx, yy}])
		}
	}
	return out
}

// applyCopyRect simulates the client applying a destination <- source copy
// on the reference framebuffer.
func applyCopyRect(fb *fakeFramebuffer, dstX, dstY, w, h, srcX, srcY int) {
	var src = fb.ReadRect(srcX, srcY, w, h)
	var i int
	for yy := dstY; yy < dstY+h; yy++ {
		for xx := dstX; xx < dstX+w; xx++ {
			fb.pix[[2]int{xx, yy}] = src[i]
			i++
		}
	}
}

func TestRawEncoderWritesHeaderAndPixels(t *testing.T) {
	var fb = newFakeFramebuffer(4, 4)
	var buf bytes.Buffer
	var enc RawEncoder
	require.True(t, enc.SendRect(fb, &buf, 0, 0, 2, 2))
	assert.Equal(t, 12+4, buf.Len()) // RectHeader + 2x2 1-byte pixels
}

func TestTightNumCodedRectsDeclinesToPrecount(t *testing.T) {
	var enc = NewTightEncoder()
	defer enc.Close()
	assert.Equal(t, uint32(0), enc.NumCodedRects(nil, 0, 0, 10, 10))
}

func TestTightSendRectProducesCompressedBody(t *testing.T) {
	var fb = newFakeFramebuffer(32, 32)
	var buf bytes.Buffer
	var enc = NewTightEncoder()
	defer enc.Close()
	require.True(t, enc.SendRect(fb, &buf, 0, 0, 32, 32))
	// header (12) + control byte (1) + at least one length byte.
	assert.Greater(t, buf.Len(), 13)
}

// S5 — CopyRect ordering: rects [(0,0,10,10), (0,10,10,20)] copied by
// (dx=+5, dy=+5). Emission order must put the y=10 band first, then y=0.
func TestOrderCopyRectsMatchesSpecExample(t *testing.T) {
	var rects = []region.Rect{
		{X: 0, Y: 0, W: 10, H: 10},
		{X: 0, Y: 10, W: 10, H: 10},
	}
	var ordered = OrderCopyRects(rects, 5, 5)
	require.Len(t, ordered, 2)
	assert.Equal(t, 10, ordered[0].Y)
	assert.Equal(t, 0, ordered[1].Y)
}

// Invariant 9: replaying emitted CopyRects sequentially (each one reading
// the framebuffer as mutated by prior rects) in the computed order must
// reproduce the same result as a simultaneous bulk copy, where every
// destination is computed by reading the pre-copy source. This is the case
// that actually distinguishes "right order" from "wrong order": the rects
// below are adjacent along the translation axis, so a naive in-source-order
// replay clobbers a later rect's source before it is read.
func TestCopyRectOrderReplayMatchesBulkCopy(t *testing.T) {
	for _, tc := range []struct {
		name   string
		dx, dy int
		rects  []region.Rect
	}{
		{"positive dx", 5, 0, []region.Rect{
			{X: 0, Y: 0, W: 10, H: 10},
			{X: 10, Y: 0, W: 10, H: 10},
		}},
		{"negative dx", -5, 0, []region.Rect{
			{X: 10, Y: 0, W: 10, H: 10},
			{X: 0, Y: 0, W: 10, H: 10},
		}},
		{"positive dy", 0, 5, []region.Rect{
			{X: 0, Y: 0, W: 10, H: 10},
			{X: 0, Y: 10, W: 10, H: 10},
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var original = newFakeFramebuffer(64, 64)

			// Simultaneous bulk copy: every destination reads from the
			// untouched original snapshot.
			var bulk = newFakeFramebuffer(64, 64)
			for _, r := range tc.rects {
				var src = original.ReadRect(r.X-tc.dx, r.Y-tc.dy, r.W, r.H)
				var i int
				for yy := r.Y; yy < r.Y+r.H; yy++ {
					for xx := r.X; xx < r.X+r.W; xx++ {
						bulk.pix[[2]int{xx, yy}] = src[i]
						i++
					}
				}
			}

			// Sequential replay in the computed order, each copy reading
			// whatever the framebuffer holds at that moment (as a real
			// client applying CopyRects one at a time would).
			var replayed = newFakeFramebuffer(64, 64)
			for k, v := range original.pix {
				replayed.pix[k] = v
			}
			var ordered = OrderCopyRects(tc.rects, tc.dx, tc.dy)
			for _, r := range ordered {
				applyCopyRect(replayed, r.X, r.Y, r.W, r.H, r.X-tc.dx, r.Y-tc.dy)
			}

			assert.Equal(t, bulk.pix, replayed.pix)
		})
	}
}
