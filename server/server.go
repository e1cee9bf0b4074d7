package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hanumantb/octopus/encode"
	"github.com/hanumantb/octopus/metrics"
	"github.com/hanumantb/octopus/transport"
)

// Config carries the server-wide tunables (§6) governing every accepted
// session: screen geometry, sharing policy, and the Push Scheduler's tick
// cadence and wire limits.
type Config struct {
	ListenAddr        string
	DatagramPort      int
	Width, Height     uint16
	Desktop, Host     string
	Display           int
	PullPushThreshold int
	TickInterval      time.Duration
	MaxUpdateSize     int

	// Sharing policy (§4.G). AlwaysShared and NeverShared override a
	// client's requested shared flag; when neither is set the client's own
	// flag governs. DontDisconnect, when the incoming client is effectively
	// non-shared and other sessions are active, refuses the incoming client
	// instead of closing the existing ones.
	AlwaysShared   bool
	NeverShared    bool
	DontDisconnect bool
	ViewOnly       bool
}

// Server is the top-level accept loop and client registry (§5): it owns
// the shared datagram socket, the single pointer-owner lock, the client
// list, and the periodic tick driver that feeds every push-eligible
// session's Push Scheduler.
type Server struct {
	cfg Config
	log *logrus.Entry
	fb  encode.Framebuffer

	datagram net.PacketConn
	lock     *pointerLock
	metrics  *metrics.SessionCollector

	mu         sync.Mutex
	sessions   map[*Session]struct{}
	primarySet bool
}

// New constructs a Server. fb is the Framebuffer collaborator every
// session's Update Builder reads pixels from; it is shared across clients
// since it represents one physical screen. collector is optional: a nil
// collector simply means sessions are never registered for metrics export.
func New(cfg Config, fb encode.Framebuffer, collector *metrics.SessionCollector, log *logrus.Entry) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		fb:       fb,
		lock:     &pointerLock{},
		metrics:  collector,
		sessions: make(map[*Session]struct{}),
	}
}

// Serve accepts connections on ln, runs each client's handshake and
// dispatch loop on its own goroutine, and drives the Push Scheduler's tick
// loop, until ctx is cancelled.
func (srv *Server) Serve(ctx context.Context, ln net.Listener) error {
	var datagramConn, err = net.ListenPacket("udp", fmt.Sprintf(":%d", srv.cfg.DatagramPort))
	if err != nil {
		return errors.WithMessage(err, "server: listen datagram socket")
	}
	srv.datagram = datagramConn
	defer datagramConn.Close()

	go srv.tickLoop(ctx)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		var conn, acceptErr = ln.Accept()
		if acceptErr != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errors.WithMessage(acceptErr, "server: accept")
			}
		}
		go srv.handleConn(ctx, conn)
	}
}

// handleConn runs one client's full lifecycle: attach transport, run the
// handshake, register the session, dispatch Normal-state messages until
// the connection closes, then unregister and tear down. Per §7, no error
// from this session ever propagates beyond this goroutine.
func (srv *Server) handleConn(ctx context.Context, conn net.Conn) {
	var tr = transport.New(conn, transport.Config{
		DatagramPort:  srv.cfg.DatagramPort,
		MaxUpdateSize: srv.cfg.MaxUpdateSize,
		UpdateBufSize: srv.cfg.MaxUpdateSize + 4096,
	})
	if err := tr.AttachDatagram(srv.datagram); err != nil {
		srv.log.WithError(err).Warn("attach datagram channel")
		_ = tr.Close()
		return
	}

	var s = newSession(tr, srv.fb, srv.cfg.PullPushThreshold, srv.log)
	s.lock = srv.lock
	s.ViewOnly = srv.cfg.ViewOnly

	srv.mu.Lock()
	if !srv.primarySet {
		s.Primary = true
		srv.primarySet = true
	}
	srv.mu.Unlock()

	var hsErr = s.RunHandshake(ctx, HandshakeConfig{
		Width: srv.cfg.Width, Height: srv.cfg.Height,
		User: clientUser(conn), Desktop: srv.cfg.Desktop, Host: srv.cfg.Host, Display: srv.cfg.Display,
	}, func(shared bool) error { return srv.applySharingPolicy(s, shared) })
	if hsErr != nil {
		srv.log.WithError(hsErr).Debug("handshake failed")
		s.Close()
		return
	}

	srv.register(s)
	defer srv.unregister(s)

	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		default:
		}
		if err := s.DispatchOnce(ctx, srv); err != nil {
			s.Close()
			return
		}
	}
}

// clientUser derives a display-name component from the peer address; real
// user identity requires the out-of-scope authentication collaborator
// (§1 Non-goals), so the remote address stands in for it.
func clientUser(conn net.Conn) string {
	var host, _, err = net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

// applySharingPolicy implements §4.G's sharing policy at Initialisation.
// effectiveShared folds the client's requested flag through the server's
// AlwaysShared/NeverShared overrides; when the result is non-shared and
// other Normal sessions exist, DontDisconnect decides whether this new
// client is refused or the existing sessions are closed instead.
func (srv *Server) applySharingPolicy(s *Session, requestedShared bool) error {
	var effectiveShared = requestedShared
	if srv.cfg.AlwaysShared {
		effectiveShared = true
	} else if srv.cfg.NeverShared {
		effectiveShared = false
	}
	if effectiveShared {
		return nil
	}

	srv.mu.Lock()
	var others = make([]*Session, 0, len(srv.sessions))
	for other := range srv.sessions {
		if other != s {
			others = append(others, other)
		}
	}
	srv.mu.Unlock()

	if len(others) == 0 {
		return nil
	}
	if srv.cfg.DontDisconnect {
		return errors.New("server: refused non-shared client, other sessions are active")
	}
	for _, other := range others {
		other.Close()
		srv.unregister(other)
	}
	return nil
}

func (srv *Server) register(s *Session) {
	srv.mu.Lock()
	srv.sessions[s] = struct{}{}
	srv.mu.Unlock()
	if srv.metrics != nil {
		srv.metrics.Add(s)
	}
}

func (srv *Server) unregister(s *Session) {
	srv.mu.Lock()
	delete(srv.sessions, s)
	if srv.lock != nil {
		srv.lock.release(s)
	}
	srv.mu.Unlock()
	if srv.metrics != nil {
		srv.metrics.Remove(s)
	}
}

// SendPullUpdate implements Scheduler: one on-demand build over the
// reliable stream for a pull-mode FramebufferUpdateRequest (§4.G).
func (srv *Server) SendPullUpdate(s *Session) error {
	var whole = s.Requested.Extents()
	var eventID = srv.nextEventIDFor(s)
	var results, err = s.splitAndSend(whole, srv.cfg.MaxUpdateSize, s.nextSeqNum, eventID, s.conn.SendUpdate)
	if err != nil {
		return err
	}
	for _, res := range results {
		s.Adaptive.RecordSent(res.NumBytes)
		s.BytesSent += uint64(res.NumBytes)
	}
	return nil
}

// EnterPushMode implements Scheduler: flips a primary session that has
// crossed the pull→push threshold into server-push/datagram mode (S2).
func (srv *Server) EnterPushMode(s *Session) {
	s.UseDatagram = true
	s.conn.UseDatagram = true
	srv.log.WithField("session", s.ID.String()).Info("entering push mode")
}

func (srv *Server) nextEventIDFor(s *Session) uint32 {
	return s.LastEventID
}

// tickLoop drives the Push Scheduler (component F) once per cfg.TickInterval
// for every push-eligible session.
func (srv *Server) tickLoop(ctx context.Context) {
	var ticker = time.NewTicker(srv.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			srv.tickOnce(now)
		}
	}
}

func (srv *Server) tickOnce(now time.Time) {
	srv.mu.Lock()
	var targets = make([]*Session, 0, len(srv.sessions))
	for s := range srv.sessions {
		if s.UseDatagram {
			targets = append(targets, s)
		}
	}
	srv.mu.Unlock()

	for _, s := range targets {
		var eventID = s.LastEventID
		if _, err := s.Tick(now, srv.cfg.TickInterval, srv.cfg.MaxUpdateSize, eventID, s.conn.SendUpdate); err != nil {
			srv.log.WithError(err).WithField("session", s.ID.String()).Warn("tick failed, closing session")
			s.Close()
			srv.unregister(s)
		}
	}
}
