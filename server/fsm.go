package server

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/trace"

	"github.com/hanumantb/octopus/region"
	"github.com/hanumantb/octopus/wire"
)

// Keyboard, Pointer and Clipboard are the out-of-scope X-server integration
// collaborators (§1 Non-goals: "X-server integration (keyboard/pointer
// injection)"). Only their contracts appear here; a Session with a nil
// collaborator simply drops the corresponding input event.
type Keyboard interface {
	InjectKey(down bool, key uint32)
}

type Pointer interface {
	InjectPointer(buttonMask uint8, x, y uint16)
}

type Clipboard interface {
	SetClipboard(text []byte)
}

// HandshakeConfig carries the accept-time parameters the Initialisation
// state needs.
type HandshakeConfig struct {
	Width, Height       uint16
	User, Desktop, Host string
	Display             int
}

// pointerLock arbitrates the single mutable pointer-owner cell shared
// across every session on a Server (§5: "the pointer-owner handle (single
// mutable cell arbitrated by button-mask transitions)"). Each session
// dispatches on its own goroutine (server.go's handleConn), so acquire and
// release are reached concurrently and need their own mutex.
type pointerLock struct {
	mu    sync.Mutex
	owner *Session
}

// acquire reports whether s may act on a non-zero button mask: true if no
// other session currently holds the lock, or s already holds it.
func (p *pointerLock) acquire(s *Session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.owner != nil && p.owner != s {
		return false
	}
	p.owner = s
	return true
}

// release drops s's hold on the lock, if it has one. A zero button mask
// always releases per §4.G.
func (p *pointerLock) release(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.owner == s {
		p.owner = nil
	}
}

// addTrace records a lazily-formatted trace event if ctx carries an active
// golang.org/x/net/trace.Trace, mirroring the teacher's consumer/service.go
// helper of the same name.
func addTrace(ctx context.Context, format string, args ...interface{}) {
	if tr, ok := trace.FromContext(ctx); ok {
		tr.LazyPrintf(format, args...)
	}
}

// mustState panics if the session isn't in the expected state. Reserved for
// programmer-error conditions (a handler invoked out of turn); client-
// supplied bad input always maps to a transition into stateClosed instead,
// never a panic.
func (s *Session) mustState(expect state) {
	if s.state != expect {
		s.log.WithFields(logrus.Fields{
			"expect": expect,
			"actual": s.state,
		}).Panic("unexpected session state")
	}
}

// transition logs and records a state change.
func (s *Session) transition(ctx context.Context, event string, to state) {
	s.log.WithFields(logrus.Fields{
		"from":  s.state,
		"to":    to,
		"event": event,
	}).Debug("session state transition")
	addTrace(ctx, "%s: %s -> %s", event, s.state, to)
	s.state = to
}

// fail logs a fatal condition and transitions to stateClosed. It is the
// single path by which client-supplied bad input or a transport error ends
// a session -- per §7, every error kind but Transient and Policy-rejection
// maps here.
func (s *Session) fail(ctx context.Context, event string, err error) error {
	s.log.WithFields(logrus.Fields{"event": event}).WithError(err).Error("closing session")
	s.transition(ctx, event, stateClosed)
	return err
}

// RunHandshake drives the session from ProtocolVersion through
// Initialisation (§4.G), leaving it in stateNormal on success.
// applySharing implements the sharing policy decision (§4.G): it is given
// the client's requested shared flag and returns an error if this session
// must be refused -- cross-session bookkeeping (closing other Normal
// sessions under a non-shared request) belongs to the Server, not the FSM.
func (s *Session) RunHandshake(ctx context.Context, cfg HandshakeConfig, applySharing func(shared bool) error) error {
	s.mustState(stateProtocolVersion)
	if err := s.onProtocolVersion(ctx); err != nil {
		return s.fail(ctx, "protocolVersion", err)
	}

	if s.MinorVersion >= 7 {
		if err := s.onSecurityType(ctx); err != nil {
			return s.fail(ctx, "securityType", err)
		}
	} else {
		s.transition(ctx, "protocolVersion33", stateAuthentication)
	}

	if err := s.onAuthentication(ctx); err != nil {
		return s.fail(ctx, "authentication", err)
	}

	if err := s.onInitialisation(ctx, cfg, applySharing); err != nil {
		return s.fail(ctx, "initialisation", err)
	}
	return nil
}

// onProtocolVersion implements the ProtocolVersion state: the server always
// offers its maximum supported version (3.8); the client's reply pins the
// effective protocol via wire.NegotiatedMinor.
func (s *Session) onProtocolVersion(ctx context.Context) error {
	s.mustState(stateProtocolVersion)
	if _, err := io.WriteString(s.conn.StreamWriter(), wire.Version38); err != nil {
		return errors.WithMessage(err, "write server version")
	}
	if err := s.conn.Flush(); err != nil {
		return err
	}

	var buf [12]byte
	if _, err := io.ReadFull(s.conn.StreamReader(), buf[:]); err != nil {
		return errors.WithMessage(err, "read client version")
	}
	var minor, err = wire.ParseClientVersion(buf[:])
	if err != nil {
		return errors.WithMessage(err, "parse client version")
	}
	s.MinorVersion = wire.NegotiatedMinor(minor)
	s.transition(ctx, "protocolVersion", stateSecurityType)
	return nil
}

// onSecurityType implements the 3.7+ SecurityType/TunnelingType/AuthType
// leg. Authentication schemes and TightVNC-style tunneling negotiation are
// an out-of-scope external collaborator (§1 Non-goals); this session
// offers exactly one security type, "None" (1), and moves straight through
// TunnelingType/AuthType to Authentication without offering any tunnel or
// extended-auth options, since none are implemented.
func (s *Session) onSecurityType(ctx context.Context) error {
	s.mustState(stateSecurityType)
	var w = s.conn.StreamWriter()
	if _, err := w.Write([]byte{1, 1}); err != nil { // nTypes=1, types=[None]
		return errors.WithMessage(err, "write security types")
	}
	if err := s.conn.Flush(); err != nil {
		return err
	}

	var chosen [1]byte
	if _, err := io.ReadFull(s.conn.StreamReader(), chosen[:]); err != nil {
		return errors.WithMessage(err, "read chosen security type")
	}
	s.transition(ctx, "securityType", stateTunnelingType)
	s.transition(ctx, "tunnelingType", stateAuthType)
	s.transition(ctx, "authType", stateAuthentication)
	return nil
}

// onAuthentication always succeeds (the "None" security type), writing the
// 3.8 SecurityResult when the negotiated version requires it.
func (s *Session) onAuthentication(ctx context.Context) error {
	s.mustState(stateAuthentication)
	if s.MinorVersion >= 8 {
		var ok [4]byte // u32 0 == OK
		if _, err := s.conn.StreamWriter().Write(ok[:]); err != nil {
			return errors.WithMessage(err, "write security result")
		}
		if err := s.conn.Flush(); err != nil {
			return err
		}
	}
	s.transition(ctx, "authentication", stateInitialisation)
	return nil
}

// onInitialisation reads ClientInit, applies the sharing policy, and
// writes ServerInit (and InteractionCaps for 3.7+), per §4.G and §6.
func (s *Session) onInitialisation(ctx context.Context, cfg HandshakeConfig, applySharing func(shared bool) error) error {
	s.mustState(stateInitialisation)

	var shared [1]byte
	if _, err := io.ReadFull(s.conn.StreamReader(), shared[:]); err != nil {
		return errors.WithMessage(err, "read client init")
	}
	if applySharing != nil {
		if err := applySharing(shared[0] != 0); err != nil {
			return err
		}
	}

	var si = wire.ServerInit{
		Width:       cfg.Width,
		Height:      cfg.Height,
		PixelFormat: s.PixelFormat,
		Name:        wire.DesktopName(cfg.User, cfg.Desktop, cfg.Host, cfg.Display),
	}
	if err := wire.WriteServerInit(s.conn.StreamWriter(), si); err != nil {
		return errors.WithMessage(err, "write server init")
	}

	if s.MinorVersion >= 7 {
		if err := wire.WriteInteractionCaps(s.conn.StreamWriter(), 4, 8); err != nil {
			return errors.WithMessage(err, "write interaction caps")
		}
	}
	if err := s.conn.Flush(); err != nil {
		return err
	}

	s.transition(ctx, "clientInit", stateNormal)
	return nil
}

// Scheduler is the callback surface DispatchOnce uses to hand off a pull-
// mode reply or a pull→push transition, keeping the FSM free of direct
// transport/splitter wiring decisions that belong to the Server (which owns
// the datagram socket and the tick driver).
type Scheduler interface {
	// SendPullUpdate builds and transmits one on-demand update over the
	// reliable stream for a pull-mode FramebufferUpdateRequest.
	SendPullUpdate(s *Session) error
	// EnterPushMode is called exactly once, when a primary session's
	// pull-request count crosses the threshold.
	EnterPushMode(s *Session)
}

// DispatchOnce reads and handles exactly one Normal-state message. A
// transport-level read error is returned without a state change (the
// caller tears the session down); a protocol violation transitions to
// stateClosed first.
func (s *Session) DispatchOnce(ctx context.Context, sched Scheduler) error {
	s.mustState(stateNormal)

	var msgType [1]byte
	if _, err := io.ReadFull(s.conn.StreamReader(), msgType[:]); err != nil {
		return err
	}

	switch msgType[0] {
	case wire.MsgSetPixelFormat:
		return s.onSetPixelFormat(ctx)
	case wire.MsgFixColourMapEntries:
		return s.fail(ctx, "fixColourMapEntries", errors.New("FixColourMapEntries is rejected"))
	case wire.MsgSetEncodings:
		return s.onSetEncodings(ctx)
	case wire.MsgFramebufferUpdateReq:
		return s.onFramebufferUpdateRequest(ctx, sched)
	case wire.MsgKeyEvent:
		return s.onKeyEvent(ctx)
	case wire.MsgPointerEvent:
		return s.onPointerEvent(ctx)
	case wire.MsgClientCutText:
		return s.onClientCutText(ctx)
	case wire.MsgFramebufferUpdateAck:
		return s.onFramebufferUpdateAck(ctx)
	default:
		return s.fail(ctx, "unknownMessage", errors.Errorf("unknown message type %d", msgType[0]))
	}
}

func (s *Session) onSetPixelFormat(ctx context.Context) error {
	var msg, err = wire.ReadSetPixelFormat(s.conn.StreamReader())
	if err != nil {
		return errors.WithMessage(err, "read SetPixelFormat")
	}
	s.PixelFormat = msg.Format
	addTrace(ctx, "SetPixelFormat: %+v", msg.Format)
	return nil
}

// onSetEncodings implements §4.G's SetEncodings rules: the first recognized
// primary encoding (Raw or Tight) wins, feature flags (CopyRect, cursor
// shape/position, LastRect) are independent, compression/quality
// pseudo-encodings set their levels, unrecognized codes are ignored, and
// cursor-position without cursor-shape is disabled as a post-rule.
func (s *Session) onSetEncodings(ctx context.Context) error {
	var msg, err = wire.ReadSetEncodings(s.conn.StreamReader())
	if err != nil {
		return errors.WithMessage(err, "read SetEncodings")
	}

	var gotPrimary bool
	for _, enc := range msg.Encodings {
		switch {
		case !gotPrimary && (enc == wire.EncodingRaw || enc == wire.EncodingTight):
			s.PreferredEncoding = enc
			gotPrimary = true
		case enc == wire.EncodingCopyRect:
			s.HasCopyRect = true
		case enc == wire.EncodingXCursor, enc == wire.EncodingRichCursor:
			s.HasCursorShape = true
		case enc == wire.EncodingPointerPos:
			s.HasCursorPos = true
		case enc == wire.EncodingLastRect:
			s.HasLastRect = true
		case enc <= wire.EncodingCompressLevel0 && enc > wire.EncodingCompressLevel0-10:
			s.CompressLevel = int(wire.EncodingCompressLevel0 - enc)
		case enc <= wire.EncodingQualityLevel0 && enc > wire.EncodingQualityLevel0-10:
			s.QualityLevel = int(wire.EncodingQualityLevel0 - enc)
		}
	}
	if s.HasCursorPos && !s.HasCursorShape {
		s.HasCursorPos = false
	}
	addTrace(ctx, "SetEncodings: preferred=%d copyRect=%v cursorShape=%v cursorPos=%v",
		s.PreferredEncoding, s.HasCopyRect, s.HasCursorShape, s.HasCursorPos)
	return nil
}

func (s *Session) onFramebufferUpdateRequest(ctx context.Context, sched Scheduler) error {
	var msg, err = wire.ReadFramebufferUpdateRequest(s.conn.StreamReader())
	if err != nil {
		return errors.WithMessage(err, "read FramebufferUpdateRequest")
	}

	s.ReadyForColourMap = true

	var box = region.Rect{X: int(msg.X), Y: int(msg.Y), W: int(msg.W), H: int(msg.H)}
	s.addRequested(box, msg.Incremental)

	if s.Primary {
		s.PullRequestCount++
	}
	if s.ReadyForPush() {
		if sched != nil && s.PullRequestCount == s.PullPushThresh+1 {
			sched.EnterPushMode(s)
		}
		return nil
	}

	if s.updatePending() && sched != nil {
		if err := sched.SendPullUpdate(s); err != nil {
			return errors.WithMessage(err, "send pull-mode update")
		}
	}
	return nil
}

func (s *Session) onKeyEvent(ctx context.Context) error {
	var msg, err = wire.ReadKeyEvent(s.conn.StreamReader())
	if err != nil {
		return errors.WithMessage(err, "read KeyEvent")
	}
	s.LastEventID++
	if !s.ViewOnly && s.keyboard != nil {
		s.keyboard.InjectKey(msg.Down, msg.Key)
	}
	return nil
}

// onPointerEvent enforces the single-pointer-owner lock (§4.G, S6): a
// non-zero button mask from a client that doesn't hold the lock is
// dropped; a zero button mask always releases.
func (s *Session) onPointerEvent(ctx context.Context) error {
	var msg, err = wire.ReadPointerEvent(s.conn.StreamReader())
	if err != nil {
		return errors.WithMessage(err, "read PointerEvent")
	}
	s.LastEventID++

	if msg.ButtonMask == 0 {
		if s.lock != nil {
			s.lock.release(s)
		}
	} else if s.lock != nil && !s.lock.acquire(s) {
		addTrace(ctx, "PointerEvent dropped: lock held by another session")
		return nil
	}

	s.CursorX, s.CursorY = int(msg.X), int(msg.Y)
	if !s.ViewOnly && s.pointerSink != nil {
		s.pointerSink.InjectPointer(msg.ButtonMask, msg.X, msg.Y)
	}
	return nil
}

func (s *Session) onClientCutText(ctx context.Context) error {
	var msg, err = wire.ReadClientCutText(s.conn.StreamReader())
	if err != nil {
		return errors.WithMessage(err, "read ClientCutText")
	}
	if !s.ViewOnly && s.clipboard != nil {
		s.clipboard.SetClipboard(msg.Text)
	}
	return nil
}

// onFramebufferUpdateAck feeds an acknowledged datagram send back into the
// Adaptive Controller (§4.E, S3), unconditionally, per §4.G, even on a
// duplicate/late ack (a Transient condition, §7 kind 4 -- ignored, not an
// error): a match in the Unacked-Queue drives the full RTT/throughput
// update, while an unmatched ack still advances the Controller's
// consecutive-sequence-number tracking via ObserveAck so it doesn't go
// stale.
func (s *Session) onFramebufferUpdateAck(ctx context.Context) error {
	var msg, err = wire.ReadFramebufferUpdateAck(s.conn.StreamReader())
	if err != nil {
		return errors.WithMessage(err, "read FramebufferUpdateAck")
	}

	var now = time.Now()
	var entry, found = s.Unacked.DeleteBySeq(msg.SeqNum)
	if !found {
		addTrace(ctx, "duplicate/late ack for seqNum=%d", msg.SeqNum)
		s.Adaptive.ObserveAck(msg.SeqNum, now)
		return nil
	}
	s.Adaptive.OnAck(now.Sub(entry.SendTime), msg.SeqNum, int(entry.NumBytes), now)
	return nil
}
