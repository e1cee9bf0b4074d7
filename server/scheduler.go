package server

import (
	"time"

	"github.com/hanumantb/octopus/unacked"
)

// ReadyForPush reports whether a client has completed the pull→push
// handover (§4.G, §9 isOctopus note): only the primary client's pull-request
// count is tracked toward the threshold, so a non-primary client never
// becomes push-eligible and stays in pull mode indefinitely, matching the
// source's `cl->isOctopus` gating.
func (s *Session) ReadyForPush() bool {
	return s.Primary && s.PullRequestCount > s.PullPushThresh
}

// updatePending reports whether there is anything outstanding to push: the
// source's FB_UPDATE_PENDING(cl) macro, which tests modified/copy directly
// rather than requested -- a push-mode client is always considered
// interested in its own dirty region.
func (s *Session) updatePending() bool {
	if !s.Modified.Empty() || !s.Copy.Empty() {
		return true
	}
	return s.HasCursorPos && (s.CursorX != s.lastSentCursorX || s.CursorY != s.lastSentCursorY || !s.cursorPosSentOnce)
}

// Tick implements one Push Scheduler pass for a single push-eligible client
// (component F, §4.F): age-scan the Unacked-Queue for entries past the
// retransmit timeout (folding their region back into Modified so they're
// resent), refresh the Adaptive Controller's throughput/quality estimate,
// and -- if at least PushInterval has elapsed since the last emission --
// recursively split and send the client's pending region.
//
// send transmits one leaf's encoded bytes (wired to the client's Transport
// by the caller); eventID echoes the last client-observed event id.
func (s *Session) Tick(now time.Time, tickInterval time.Duration, maxUpdateSize int, eventID uint32, send func([]byte) error) (retransmitted int, err error) {
	var inFlight = s.Unacked.Len()
	var aged = s.Unacked.AgeScan(now, s.Adaptive.RetransmitTimeout)
	if !aged.Empty() {
		s.Modified = s.Modified.Union(aged)
	}
	retransmitted = inFlight - s.Unacked.Len()
	s.RetransmitCount += uint64(retransmitted)

	s.Adaptive.Tick(now, tickInterval)

	if !s.updatePending() {
		return retransmitted, nil
	}
	if !s.LastUpdate.IsZero() && now.Sub(s.LastUpdate) < s.Adaptive.PushInterval {
		return retransmitted, nil
	}

	// extents is the zero Rect when only a cursor-position update is
	// pending; buildUpdate emits the cursor rect regardless of an empty
	// pixel box.
	var extents = s.Modified.Union(s.Copy).Extents()
	s.addRequested(extents, true)

	// This update supersedes any in-flight unacked entry it covers -- retire
	// that coverage now rather than waiting for an ack or a retransmit-age
	// timeout (spec.md §3: an Unacked entry is "destroyed on ack, on
	// retransmit-scheduling, or when a later update supersedes it").
	s.Unacked.SubtractRegion(s.Modified.Union(s.Copy))

	s.FrameSeqNumCounter++

	var results, sendErr = s.splitAndSend(extents, maxUpdateSize, s.nextSeqNum, eventID, send)
	if sendErr != nil {
		return retransmitted, sendErr
	}

	for _, res := range results {
		s.Adaptive.RecordSent(res.NumBytes)
		s.BytesSent += uint64(res.NumBytes)
		s.Unacked.Append(unacked.Entry{
			SeqNum:   res.SeqNum,
			SendTime: now,
			NumBytes: uint32(res.NumBytes),
			Region:   res.Sent,
		})
	}

	s.LastUpdate = now
	return retransmitted, nil
}
