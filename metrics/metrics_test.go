package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	id              string
	sendTput        float64
	recvTput        float64
	pushIntervalMs  float64
	qualityLevel    float64
	srttMs          float64
	rttvarMs        float64
	bytesSent       float64
	retransmitTotal float64
}

func (f *fakeSession) SessionID() string            { return f.id }
func (f *fakeSession) SendingThroughput() float64   { return f.sendTput }
func (f *fakeSession) ReceivingThroughput() float64 { return f.recvTput }
func (f *fakeSession) PushIntervalMillis() float64  { return f.pushIntervalMs }
func (f *fakeSession) TightQualityLevel() float64   { return f.qualityLevel }
func (f *fakeSession) SRTTMillis() float64          { return f.srttMs }
func (f *fakeSession) RTTVarMillis() float64        { return f.rttvarMs }
func (f *fakeSession) BytesSentTotal() float64      { return f.bytesSent }
func (f *fakeSession) RetransmitTotal() float64     { return f.retransmitTotal }

func TestCollectEmitsOneSamplePerInfoPerSession(t *testing.T) {
	var c = NewSessionCollector("octopus", nil)
	c.Add(&fakeSession{id: "a", qualityLevel: 3})
	c.Add(&fakeSession{id: "b", qualityLevel: 1})

	var ch = make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)

	var n int
	for range ch {
		n++
	}
	assert.Equal(t, 2*len(c.infos), n)
}

func TestRemoveStopsFurtherCollection(t *testing.T) {
	var c = NewSessionCollector("octopus", nil)
	var s = &fakeSession{id: "a"}
	c.Add(s)
	c.Remove(s)

	var ch = make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)

	var n int
	for range ch {
		n++
	}
	assert.Equal(t, 0, n)
}

func TestDescribeEmitsOneDescPerInfo(t *testing.T) {
	var c = NewSessionCollector("octopus", nil)
	var ch = make(chan *prometheus.Desc, 64)
	c.Describe(ch)
	close(ch)

	var n int
	for range ch {
		n++
	}
	require.Equal(t, len(c.infos), n)
}
