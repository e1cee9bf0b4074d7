package server

import "github.com/hanumantb/octopus/region"

// markModified implements component B's markModified operation.
func (s *Session) markModified(r region.Rect) {
	s.Modified = s.Modified.Union(region.New(r))
}

// markCopy implements markCopy: only one copy translation may be pending at
// a time. If a new copy conflicts with an already-pending one (a different
// delta), the simpler source-matching policy is applied: fold the pending
// copy into modified before accepting the new one.
func (s *Session) markCopy(src region.Rect, dx, dy int) {
	if !s.Copy.Empty() && (s.CopyDelta.Dx != dx || s.CopyDelta.Dy != dy) {
		s.Modified = s.Modified.Union(s.Copy)
		s.Copy = region.Region{}
	}
	s.CopyDelta = delta{Dx: dx, Dy: dy}
	s.Copy = s.Copy.Union(region.New(src))
}

// addRequested implements addRequested: requested grows unconditionally;
// a non-incremental request also forces the requested area into modified
// and clears it out of copy, since the client is about to repaint it from
// its own local state rather than expecting a translated copy.
func (s *Session) addRequested(r region.Rect, incremental bool) {
	s.Requested = s.Requested.Union(region.New(r))
	if !incremental {
		s.Modified = s.Modified.Union(region.New(r))
		s.Copy = s.Copy.Subtract(region.New(r))
	}
}

// reestablishInvariant1 re-establishes modified ∩ copy = ∅ by subtracting
// modified from copy. Called at the start of every update build, per §4.B.
func (s *Session) reestablishInvariant1() {
	s.Copy = s.Copy.Subtract(s.Modified)
}
