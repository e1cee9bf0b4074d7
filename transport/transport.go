// Package transport implements the Transport Adapter (SPEC_FULL.md §4.H):
// the reliable-stream and unreliable-datagram channels a Session uses to
// talk to its client, plus the shared output buffer the Update Builder
// fills.
package transport

import (
	"bufio"
	"io"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// DefaultDatagramPort is the source's magic UDP destination port (6829),
// kept as the default and made configurable per §6's tunables list.
const DefaultDatagramPort = 6829

// DefaultMaxUpdateSize is the source's MAX_UPDATE_SIZE derivation
// (2*1500-100), kept as the default and made configurable.
const DefaultMaxUpdateSize = 2*1500 - 100

// DefaultUpdateBufSize is the shared output buffer's fixed size: large
// enough to hold one split-sized update plus header overhead.
const DefaultUpdateBufSize = DefaultMaxUpdateSize + 4096

// Config carries the tunable transport parameters (§6).
type Config struct {
	DatagramPort  int
	MaxUpdateSize int
	UpdateBufSize int
}

// DefaultConfig returns the source-matching defaults.
func DefaultConfig() Config {
	return Config{
		DatagramPort:  DefaultDatagramPort,
		MaxUpdateSize: DefaultMaxUpdateSize,
		UpdateBufSize: DefaultUpdateBufSize,
	}
}

// Transport is a single client's two logically independent channels: the
// reliable stream (handshake, acks, control messages, and updates when
// datagram delivery is disabled) and the unreliable datagram socket
// (framebuffer update payloads when UseDatagram is true).
type Transport struct {
	cfg Config

	stream net.Conn
	r      *bufio.Reader
	w      *bufio.Writer

	datagram   net.PacketConn
	clientAddr net.Addr

	// UseDatagram gates whether FramebufferUpdate payloads go out over
	// the datagram socket (true) or are folded into the reliable stream
	// (false), per §4.H.
	UseDatagram bool

	buf []byte // shared output buffer, reused across builds
}

// New wraps an accepted reliable-stream connection. The datagram socket is
// attached separately via AttachDatagram once the client's peer address is
// known (the datagram destination is derived from the stream's remote IP
// plus cfg.DatagramPort).
func New(stream net.Conn, cfg Config) *Transport {
	return &Transport{
		cfg:    cfg,
		stream: stream,
		r:      bufio.NewReader(stream),
		w:      bufio.NewWriter(stream),
		buf:    make([]byte, 0, cfg.UpdateBufSize),
	}
}

// AttachDatagram binds conn as the shared datagram socket the server
// listens on, and records the client's datagram destination address
// (the stream's remote IP, cfg.DatagramPort).
func (t *Transport) AttachDatagram(conn net.PacketConn) error {
	var host, _, err = net.SplitHostPort(t.stream.RemoteAddr().String())
	if err != nil {
		return errors.WithMessage(err, "transport: resolve client host")
	}
	var addr, resolveErr = net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(t.cfg.DatagramPort)))
	if resolveErr != nil {
		return errors.WithMessage(resolveErr, "transport: resolve datagram addr")
	}
	t.datagram = conn
	t.clientAddr = addr
	return nil
}

// StreamReader returns the buffered reader for the reliable stream.
func (t *Transport) StreamReader() io.Reader { return t.r }

// StreamWriter returns the buffered writer for the reliable stream. Callers
// must Flush (or call Transport.Flush) after a logical message is complete.
func (t *Transport) StreamWriter() io.Writer { return t.w }

// Flush flushes any buffered reliable-stream writes.
func (t *Transport) Flush() error {
	return errors.WithMessage(t.w.Flush(), "transport: flush stream")
}

// Close tears down the per-client reliable stream. The datagram socket is
// shared across sessions and is not closed here.
func (t *Transport) Close() error {
	return errors.WithMessage(t.stream.Close(), "transport: close stream")
}

// OutputBuffer returns the shared output buffer the Update Builder fills,
// reset to zero length. The same backing array is reused build-to-build to
// avoid per-update allocation, matching the source's single static
// UPDATE_BUF_SIZE buffer.
func (t *Transport) OutputBuffer() *[]byte {
	t.buf = t.buf[:0]
	return &t.buf
}

// MaxUpdateSize returns the configured maximum payload size a single
// datagram-sent update may occupy.
func (t *Transport) MaxUpdateSize() int { return t.cfg.MaxUpdateSize }

// SendUpdate transmits payload as a single FramebufferUpdate. If
// UseDatagram is set it goes out over the datagram socket to the client's
// registered peer address; otherwise it is written (and flushed) to the
// reliable stream. A partial datagram send or any write error is
// transport-fatal per §7 error kind 1 and is returned as such.
func (t *Transport) SendUpdate(payload []byte) error {
	if !t.UseDatagram {
		if _, err := t.w.Write(payload); err != nil {
			return errors.WithMessage(err, "transport: write update to stream")
		}
		return t.Flush()
	}

	if t.datagram == nil {
		return errors.New("transport: datagram channel not attached")
	}
	var n, err = t.datagram.WriteTo(payload, t.clientAddr)
	if err != nil {
		return errors.WithMessage(err, "transport: send update datagram")
	}
	if n != len(payload) {
		return errors.Errorf("transport: short datagram write (%d of %d bytes)", n, len(payload))
	}
	return nil
}
