package transport

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePacketConn captures writes without touching a real socket.
type fakePacketConn struct {
	net.PacketConn
	writes [][]byte
	dests  []net.Addr
}

func (f *fakePacketConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	var cp = append([]byte(nil), p...)
	f.writes = append(f.writes, cp)
	f.dests = append(f.dests, addr)
	return len(p), nil
}

func TestSendUpdateOverStreamWhenNotUsingDatagram(t *testing.T) {
	var server, client = net.Pipe()
	defer server.Close()
	defer client.Close()

	var tr = New(server, DefaultConfig())
	var done = make(chan struct{})
	var got []byte
	go func() {
		var buf = make([]byte, 5)
		io.ReadFull(client, buf)
		got = buf
		close(done)
	}()

	require.NoError(t, tr.SendUpdate([]byte("hello")))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream read")
	}
	assert.Equal(t, "hello", string(got))
}

func TestSendUpdateOverDatagramWhenEnabled(t *testing.T) {
	var server, client = net.Pipe()
	defer server.Close()
	defer client.Close()

	// net.Pipe's Addr doesn't carry a real host:port, so this test skips
	// AttachDatagram and sets the datagram socket and client address directly.
	var tr = &Transport{
		cfg:         DefaultConfig(),
		stream:      server,
		UseDatagram: true,
	}
	var fake = &fakePacketConn{}
	tr.datagram = fake
	tr.clientAddr = &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: DefaultDatagramPort}

	require.NoError(t, tr.SendUpdate([]byte("payload")))
	require.Len(t, fake.writes, 1)
	assert.Equal(t, "payload", string(fake.writes[0]))
}

func TestOutputBufferResetsLength(t *testing.T) {
	var server, client = net.Pipe()
	defer server.Close()
	defer client.Close()

	var tr = New(server, DefaultConfig())
	var buf = tr.OutputBuffer()
	*buf = append(*buf, 1, 2, 3)
	assert.Len(t, *buf, 3)

	var buf2 = tr.OutputBuffer()
	assert.Len(t, *buf2, 0)
}
