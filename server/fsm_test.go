package server

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanumantb/octopus/region"
	"github.com/hanumantb/octopus/transport"
	"github.com/hanumantb/octopus/wire"
)

// pipeSession wires a Session to one end of a net.Pipe, leaving the test in
// control of the other end to play the client role.
func pipeSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	var serverConn, clientConn = net.Pipe()
	var tr = transport.New(serverConn, transport.DefaultConfig())
	var log = logrus.NewEntry(logrus.New())
	var s = newSession(tr, NewSyntheticFramebuffer(64, 64), 10, log)
	t.Cleanup(func() { _ = clientConn.Close() })
	return s, clientConn
}

// Scenario S1: handshake to first frame. A 3.8 client completes
// ProtocolVersion through Initialisation and lands in stateNormal.
func TestHandshakeReachesNormalState(t *testing.T) {
	var s, client = pipeSession(t)

	var handshakeErr error
	var done = make(chan struct{})
	go func() {
		handshakeErr = s.RunHandshake(context.Background(), HandshakeConfig{
			Width: 64, Height: 64, User: "alice", Desktop: "X", Host: "localhost", Display: 0,
		}, nil)
		close(done)
	}()

	var serverVersion [12]byte
	_, err := io.ReadFull(client, serverVersion[:])
	require.NoError(t, err)
	assert.Equal(t, wire.Version38, string(serverVersion[:]))

	_, err = client.Write([]byte(wire.Version38))
	require.NoError(t, err)

	var secTypes [2]byte
	_, err = io.ReadFull(client, secTypes[:])
	require.NoError(t, err)
	assert.Equal(t, byte(1), secTypes[0], "exactly one security type offered")
	assert.Equal(t, byte(1), secTypes[1], "security type 1 (None)")

	_, err = client.Write([]byte{1}) // chosen: None
	require.NoError(t, err)

	var secResult [4]byte
	_, err = io.ReadFull(client, secResult[:])
	require.NoError(t, err)
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(secResult[:]), "security result OK")

	_, err = client.Write([]byte{1}) // ClientInit: shared=1
	require.NoError(t, err)

	var serverInitHdr [4]byte
	_, err = io.ReadFull(client, serverInitHdr[:])
	require.NoError(t, err)
	assert.Equal(t, uint16(64), binary.BigEndian.Uint16(serverInitHdr[0:2]))
	assert.Equal(t, uint16(64), binary.BigEndian.Uint16(serverInitHdr[2:4]))

	var pf [16]byte
	_, err = io.ReadFull(client, pf[:])
	require.NoError(t, err)

	var nameLen [4]byte
	_, err = io.ReadFull(client, nameLen[:])
	require.NoError(t, err)
	var name = make([]byte, binary.BigEndian.Uint32(nameLen[:]))
	_, err = io.ReadFull(client, name)
	require.NoError(t, err)
	assert.Contains(t, string(name), "alice")

	var caps [8]byte
	_, err = io.ReadFull(client, caps[:])
	require.NoError(t, err)
	assert.Equal(t, uint16(wire.NCaps), binary.BigEndian.Uint16(caps[4:6]))

	var capRecords [wire.NCaps * 4]byte
	_, err = io.ReadFull(client, capRecords[:])
	require.NoError(t, err, "must drain every capability record or the server's Flush blocks forever")

	<-done
	require.NoError(t, handshakeErr)
	assert.Equal(t, stateNormal, s.state)
}

type fakeScheduler struct {
	pullSends    int
	enteredPush  bool
	enteredPushN int
}

func (f *fakeScheduler) SendPullUpdate(s *Session) error {
	f.pullSends++
	return nil
}

func (f *fakeScheduler) EnterPushMode(s *Session) {
	f.enteredPush = true
	f.enteredPushN++
}

// Scenario S2: a primary client's 11th incremental FramebufferUpdateRequest
// flips the session into push mode; the first 10 take the pull-mode path.
func TestFramebufferUpdateRequestPullToPushTransition(t *testing.T) {
	var s, client = pipeSession(t)
	s.state = stateNormal
	s.Primary = true
	s.PixelFormat = wire.DefaultPixelFormat
	// Pending content, so each pull-mode request has an update to send
	// (fakeScheduler never consumes it).
	s.markModified(region.Rect{X: 0, Y: 0, W: 64, H: 64})

	var sched = &fakeScheduler{}

	var furBytes = func() []byte {
		var buf [10]byte
		buf[0] = wire.MsgFramebufferUpdateReq
		buf[1] = 1 // incremental
		binary.BigEndian.PutUint16(buf[2:4], 0)
		binary.BigEndian.PutUint16(buf[4:6], 0)
		binary.BigEndian.PutUint16(buf[6:8], 64)
		binary.BigEndian.PutUint16(buf[8:10], 64)
		return buf[:]
	}()

	for i := 0; i < 11; i++ {
		go func() { _, _ = client.Write(furBytes) }()
		require.NoError(t, s.DispatchOnce(context.Background(), sched))
	}

	assert.Equal(t, 10, sched.pullSends, "the first 10 requests take the pull-mode path")
	assert.True(t, sched.enteredPush, "the 11th request flips to push mode")
	assert.Equal(t, 1, sched.enteredPushN, "push mode entered exactly once")
}

// Scenario S6: the single pointer-owner lock. A acquires on a non-zero
// button mask; B is dropped while A holds it; A releasing on a zero mask
// lets B acquire.
func TestPointerEventOwnershipLock(t *testing.T) {
	var lock = &pointerLock{}

	var a, clientA = pipeSession(t)
	var b, clientB = pipeSession(t)
	a.state, b.state = stateNormal, stateNormal
	a.lock, b.lock = lock, lock

	var pointerMsg = func(mask byte) []byte {
		var buf [6]byte
		buf[0] = wire.MsgPointerEvent
		buf[1] = mask
		binary.BigEndian.PutUint16(buf[2:4], 10)
		binary.BigEndian.PutUint16(buf[4:6], 20)
		return buf[:]
	}

	go func() { _, _ = clientA.Write(pointerMsg(1)) }()
	require.NoError(t, a.DispatchOnce(context.Background(), nil))
	assert.Same(t, a, lock.owner)

	go func() { _, _ = clientB.Write(pointerMsg(1)) }()
	require.NoError(t, b.DispatchOnce(context.Background(), nil))
	assert.Same(t, a, lock.owner, "B's button-down is dropped while A holds the lock")

	go func() { _, _ = clientA.Write(pointerMsg(0)) }()
	require.NoError(t, a.DispatchOnce(context.Background(), nil))
	assert.Nil(t, lock.owner, "A's zero button mask releases the lock")

	go func() { _, _ = clientB.Write(pointerMsg(1)) }()
	require.NoError(t, b.DispatchOnce(context.Background(), nil))
	assert.Same(t, b, lock.owner, "B can now acquire")
}

// onFramebufferUpdateAck must advance the Adaptive Controller's
// consecutive-ack tracking even when the seqNum has already been retired
// from the Unacked-Queue (a late/duplicate ack), per §4.G/§7's
// Transient-condition handling -- otherwise the next legitimate ack's
// consecutive-sequence check is computed against stale state.
func TestFramebufferUpdateAckUpdatesAdaptiveEvenWhenUnmatched(t *testing.T) {
	var s, client = pipeSession(t)
	s.state = stateNormal

	var buf [5]byte
	buf[0] = wire.MsgFramebufferUpdateAck
	binary.BigEndian.PutUint32(buf[1:5], 42)

	go func() { _, _ = client.Write(buf[:]) }()
	require.NoError(t, s.DispatchOnce(context.Background(), nil))

	assert.Equal(t, uint32(42), s.Adaptive.LastAckSeqNum())
	assert.False(t, s.Adaptive.LastAckTime().IsZero())
	assert.WithinDuration(t, time.Now(), s.Adaptive.LastAckTime(), time.Second)
}
