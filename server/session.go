// Package server implements the per-client Protocol State Machine, the
// Update Builder, the Recursive Splitter, and the Push Scheduler
// (SPEC_FULL.md §4.C, §4.D, §4.F, §4.G), wired together by Server, the
// top-level accept loop and client registry.
package server

import (
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/hanumantb/octopus/adaptive"
	"github.com/hanumantb/octopus/encode"
	"github.com/hanumantb/octopus/region"
	"github.com/hanumantb/octopus/transport"
	"github.com/hanumantb/octopus/unacked"
	"github.com/hanumantb/octopus/wire"
)

// state is the Protocol State Machine's state (§4.G).
type state string

const (
	stateProtocolVersion state = ""             // initial state
	stateSecurityType    state = "securityType"
	stateTunnelingType   state = "tunnelingType"
	stateAuthType        state = "authType"
	stateAuthentication  state = "authentication"
	stateInitialisation  state = "initialisation"
	stateNormal          state = "normal" // semi-terminal: awaits more input
	stateClosed          state = "closed" // terminal
)

// delta is a translation offset, matching the data model's copyDelta field.
type delta struct{ Dx, Dy int }

// Session is the Client Session record (SPEC_FULL.md §3): one per accepted
// connection, holding protocol state, region accounting, adaptive state,
// and the Unacked-Queue. All of it is per-session, per the redesign
// documented in SPEC_FULL.md §3/§9.
type Session struct {
	ID xid.ID

	mu sync.Mutex

	conn *transport.Transport
	log  *logrus.Entry

	state state

	// Handshake/negotiation.
	MinorVersion      int
	PixelFormat       wire.PixelFormat
	PreferredEncoding int32
	HasCopyRect       bool
	HasCursorShape    bool
	HasCursorPos      bool
	HasLastRect       bool
	CompressLevel     int
	QualityLevel      int
	ReadyForColourMap bool
	ViewOnly          bool

	// Region accounting (component B).
	Modified  region.Region
	Copy      region.Region
	Requested region.Region
	CopyDelta delta

	// Cursor. Cursor-shape (XCursor/RichCursor sprite) updates are a
	// declared Non-goal; only cursor-position tracking is implemented.
	CursorX, CursorY                 int
	lastSentCursorX, lastSentCursorY int
	cursorPosSentOnce                bool

	// Pull/push handover (§4.G, §9 isOctopus note).
	Primary          bool
	PullRequestCount int
	PullPushThresh   int
	UseDatagram      bool
	LastUpdate       time.Time

	// Adaptive Controller (component E) and Unacked-Queue (component A),
	// both per-session per §3/§9's redesign.
	Adaptive *adaptive.Controller
	Unacked  *unacked.Queue

	SeqNumCounter      uint32
	FrameSeqNumCounter uint32

	LastEventID uint32

	// Cumulative counters exported by the metrics Collector.
	BytesSent       uint64
	RetransmitCount uint64

	// Encoders. Tight carries persistent zlib state across calls and so
	// is owned per-session rather than constructed fresh per rectangle.
	rawEncoder      encode.RawEncoder
	copyRectEncoder encode.CopyRectEncoder
	tightEncoder    *encode.TightEncoder

	fb encode.Framebuffer

	// Collaborators for input injection and sharing arbitration, all
	// optional: a nil collaborator just drops the corresponding input.
	// Keyboard/pointer/clipboard injection is out-of-scope X-server
	// integration (§1 Non-goals); lock is the server-wide pointer-owner
	// cell (§4.G, §5).
	keyboard    Keyboard
	pointerSink Pointer
	clipboard   Clipboard
	lock        *pointerLock

	closed bool
}

// framebuffer returns the session's pixel source for encoding.
func (s *Session) framebuffer() encode.Framebuffer { return s.fb }

// newSession constructs a Session in its initial handshake state.
func newSession(conn *transport.Transport, fb encode.Framebuffer, pullPushThreshold int, log *logrus.Entry) *Session {
	var id = xid.New()
	return &Session{
		ID:             id,
		conn:           conn,
		fb:             fb,
		log:            log.WithField("session", id.String()),
		state:          stateProtocolVersion,
		PixelFormat:    wire.DefaultPixelFormat,
		Adaptive:       adaptive.New(),
		Unacked:        unacked.New(),
		PullPushThresh: pullPushThreshold,
		QualityLevel:   adaptive.MaxQualityLevel,
		tightEncoder:   encode.NewTightEncoder(),
	}
}

// Close tears down the session's owned resources: the Unacked-Queue, the
// Tight encoder's zlib stream, and the underlying transport. Per §7,
// session teardown never propagates an error to other sessions.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.state = stateClosed
	s.Unacked.DropAll()
	_ = s.tightEncoder.Close()
	_ = s.conn.Close()
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// nextSeqNum assigns the next strictly-increasing sequence number
// (invariant 6).
func (s *Session) nextSeqNum() uint32 {
	s.SeqNumCounter++
	return s.SeqNumCounter
}
