package server

import (
	"io"

	"github.com/hanumantb/octopus/encode"
	"github.com/hanumantb/octopus/region"
	"github.com/hanumantb/octopus/wire"
)

// buildResult summarizes one call to buildUpdate: how many bytes the
// encoded message occupied and which region was actually transmitted (used
// by the Push Scheduler to populate an Unacked-Queue entry).
type buildResult struct {
	SeqNum     uint32
	NumBytes   int
	Sent       region.Region
	HadContent bool
}

// countingWriter wraps a sink and tracks the number of bytes written
// through it, regardless of whether the sink is io.Discard (measure mode)
// or a real transport buffer (emit mode). This is the "sink parameter"
// design SPEC_FULL.md §9 resolves the source's "measuring bool" coupling
// into: the caller chooses the sink, buildUpdate doesn't otherwise branch
// on measure-vs-emit except for the final commit step.
type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	var n, err = c.w.Write(p)
	c.n += n
	return n, err
}

// buildUpdate implements the Update Builder (component C, §4.C). sink
// receives the encoded bytes (io.Discard for measure mode, a real
// transport buffer for emit mode); seqNum and eventID populate the update
// header. commit gates whether the region-accounting mutations in step 5
// apply: false for measure (the Recursive Splitter's size probes), true
// for a real emit. box restricts the operation to a sub-rectangle of the
// session's pending regions -- the Recursive Splitter's mechanism for
// sending one strip of a larger update without disturbing the bookkeeping
// for the strips still to come.
func (s *Session) buildUpdate(sink io.Writer, seqNum, eventID uint32, commit bool, box region.Rect) (buildResult, error) {
	var cw = &countingWriter{w: sink}
	var mask = region.New(box)

	s.reestablishInvariant1()

	var sendCursorPos = s.HasCursorPos && (s.CursorX != s.lastSentCursorX || s.CursorY != s.lastSentCursorY || !s.cursorPosSentOnce)

	var updateRegion = s.Copy.Union(s.Modified).Intersect(s.Requested).Intersect(mask)
	if updateRegion.Empty() && !sendCursorPos {
		return buildResult{}, nil
	}

	var translatedRequested = s.Requested.Translate(s.CopyDelta.Dx, s.CopyDelta.Dy)
	var copyRegion = s.Copy.Intersect(s.Requested).Intersect(translatedRequested).Intersect(mask)
	updateRegion = updateRegion.Subtract(copyRegion)

	var copyRects = encode.OrderCopyRects(copyRegion.Rects(), s.CopyDelta.Dx, s.CopyDelta.Dy)
	var updateRects = updateRegion.Rects()

	var nCoded, sentinel = s.countCodedRects(updateRects)

	var nRects = uint16(len(copyRects) + nCoded)
	if sendCursorPos {
		nRects++
	}
	if sentinel {
		nRects = wire.LastRectSentinel
	}

	if err := wire.WriteUpdateHeader(cw, wire.UpdateHeader{NRects: nRects, EventID: eventID, SeqNum: seqNum}); err != nil {
		return buildResult{}, err
	}

	if sendCursorPos {
		if err := wire.WriteRectHeader(cw, wire.RectHeader{
			X: uint16(s.CursorX), Y: uint16(s.CursorY), W: 0, H: 0,
			Encoding: wire.EncodingPointerPos,
		}); err != nil {
			return buildResult{}, err
		}
		if commit {
			s.lastSentCursorX, s.lastSentCursorY = s.CursorX, s.CursorY
			s.cursorPosSentOnce = true
		}
	}

	for _, r := range copyRects {
		if !s.copyRectEncoder.SendCopyRect(cw, r.X, r.Y, r.W, r.H, r.X-s.CopyDelta.Dx, r.Y-s.CopyDelta.Dy) {
			return buildResult{}, io.ErrShortWrite
		}
	}

	for _, r := range updateRects {
		if !s.sendEncodedRect(cw, r) {
			return buildResult{}, io.ErrShortWrite
		}
	}

	if sentinel {
		if err := wire.WriteRectHeader(cw, wire.LastRectHeader); err != nil {
			return buildResult{}, err
		}
	}

	var sent = updateRegion.Union(copyRegion)

	if commit {
		// The source empties requestedRegion/copyRegion wholesale after every
		// real (non-measuring) send, since recursiveSend's box-by-box calls
		// each narrow requestedRegion to exactly their own box beforehand. Our
		// accounting is session-wide rather than re-narrowed per call, so the
		// equivalent here is to consume only this call's box: any sibling
		// strip from the same split still needs its own share of
		// Requested/Copy intact.
		var remainingCopy = s.Copy.Intersect(mask).Subtract(copyRegion)
		s.Modified = s.Modified.Union(remainingCopy)
		s.Modified = s.Modified.Subtract(sent)
		s.Requested = s.Requested.Subtract(mask)
		s.Copy = s.Copy.Subtract(mask)
		if s.Copy.Empty() {
			s.CopyDelta = delta{}
		}
	}

	return buildResult{SeqNum: seqNum, NumBytes: cw.n, Sent: sent, HadContent: true}, nil
}

// countCodedRects computes nRects for the session's preferred encoding per
// §4.C step 6: Tight declines to precount and always triggers the
// sentinel; Raw (and any unrecognized/unset preference, which falls back
// to Raw) counts one wire rectangle per region rectangle.
func (s *Session) countCodedRects(rects []region.Rect) (n int, sentinel bool) {
	if s.PreferredEncoding == wire.EncodingTight {
		for _, r := range rects {
			var coded = s.tightEncoder.NumCodedRects(nil, r.X, r.Y, r.W, r.H)
			if coded == 0 {
				return 0, true
			}
			n += int(coded)
		}
		return n, false
	}
	return len(rects), false
}

// sendEncodedRect dispatches a single rectangle to the session's preferred
// encoder, falling back to Raw when no recognized primary encoding (Raw,
// CopyRect, Tight) was negotiated -- SetEncodings negotiation (§4.G)
// guarantees PreferredEncoding is always one SetEncodings recognized, and
// falls back to Raw itself if the client offered none of Raw/CopyRect/Tight.
func (s *Session) sendEncodedRect(sink io.Writer, r region.Rect) bool {
	switch s.PreferredEncoding {
	case wire.EncodingTight:
		return s.tightEncoder.SendRect(s.framebuffer(), sink, r.X, r.Y, r.W, r.H)
	default:
		return s.rawEncoder.SendRect(s.framebuffer(), sink, r.X, r.Y, r.W, r.H)
	}
}
