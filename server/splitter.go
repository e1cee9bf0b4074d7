package server

import (
	"bytes"
	"io"

	"github.com/hanumantb/octopus/region"
)

// maxSplitFanout caps the number of strips a single recursive split may
// produce, preventing pathological fan-out on extremely dense content
// (§4.D).
const maxSplitFanout = 8

// splitAndSend implements the Recursive Splitter (component D, §4.D): it
// measures box, and if it exceeds maxUpdateSize, divides it into up to
// maxSplitFanout strips along its longer edge and recurses. Each leaf box
// is built and handed to send as one complete wire message before the next
// leaf is built -- a leaf's bytes never share a message with a sibling's,
// since in datagram mode each leaf is a separate UDP payload and splitting
// a shared byte stream across datagram boundaries would corrupt both.
func (s *Session) splitAndSend(box region.Rect, maxUpdateSize int, nextSeq func() uint32, eventID uint32, send func([]byte) error) ([]buildResult, error) {
	// A box with no requested/modified/copy content inside it measures to
	// zero bytes (buildUpdate returns before writing a header); that is
	// within maxUpdateSize, so the base case below handles the empty case
	// without special-casing.
	var size, err = s.measure(box)
	if err != nil {
		return nil, err
	}

	if size <= maxUpdateSize {
		// Leaves are built and sent one at a time (this loop never runs two
		// leaves concurrently), so it's safe to reuse the Transport's single
		// shared output buffer across them -- reset via OutputBuffer, grown
		// in place by bytes.Buffer, and hand back before the next leaf resets
		// it again.
		var bufPtr = s.conn.OutputBuffer()
		var bb = bytes.NewBuffer((*bufPtr)[:0])
		var res, sendErr = s.buildUpdate(bb, nextSeq(), eventID, true, box)
		if sendErr != nil {
			return nil, sendErr
		}
		*bufPtr = bb.Bytes()
		if !res.HadContent {
			return nil, nil
		}
		if err := send(*bufPtr); err != nil {
			return nil, err
		}
		return []buildResult{res}, nil
	}

	var n = size/maxUpdateSize + 1
	if n > maxSplitFanout {
		n = maxSplitFanout
	}

	var strips = splitBox(box, n)
	var results []buildResult
	for _, strip := range strips {
		var sub, err = s.splitAndSend(strip, maxUpdateSize, nextSeq, eventID, send)
		if err != nil {
			return nil, err
		}
		results = append(results, sub...)
	}
	return results, nil
}

// measure runs the Update Builder in measure mode (commit=false, sink
// discarded) restricted to box, returning the byte size the full emit
// would occupy. Measure mode leaves Requested, Modified and the cursor
// bookkeeping untouched; its only write is buildUpdate's Copy := Copy \
// Modified, which every build applies. So box alone is enough to scope the
// probe -- no save/restore dance needed.
func (s *Session) measure(box region.Rect) (int, error) {
	var res, err = s.buildUpdate(io.Discard, 0, 0, false, box)
	if err != nil {
		return 0, err
	}
	return res.NumBytes, nil
}

// splitBox divides box into n equal strips along its longer edge, per
// §4.D: vertical strips if wider than tall, horizontal otherwise.
func splitBox(box region.Rect, n int) []region.Rect {
	if n < 1 {
		n = 1
	}
	var strips = make([]region.Rect, 0, n)
	if box.W > box.H {
		var base = box.W / n
		var rem = box.W % n
		var x = box.X
		for i := 0; i < n; i++ {
			var w = base
			if i < rem {
				w++
			}
			if w == 0 {
				continue
			}
			strips = append(strips, region.Rect{X: x, Y: box.Y, W: w, H: box.H})
			x += w
		}
		return strips
	}

	var base = box.H / n
	var rem = box.H % n
	var y = box.Y
	for i := 0; i < n; i++ {
		var h = base
		if i < rem {
			h++
		}
		if h == 0 {
			continue
		}
		strips = append(strips, region.Rect{X: box.X, Y: y, W: box.W, H: h})
		y += h
	}
	return strips
}
