package adaptive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// S3 — Ack-driven RTT.
func TestOnAckWorkedExample(t *testing.T) {
	var c = New()

	var sent1 = time.Unix(0, 1000*int64(time.Millisecond))
	var ack1 = time.Unix(0, 1100*int64(time.Millisecond))
	c.OnAck(ack1.Sub(sent1), 7, 0, ack1)

	assert.Equal(t, 100*time.Millisecond, c.SRTT())
	assert.Equal(t, 50*time.Millisecond, c.RTTVar())
	assert.Equal(t, 200*time.Millisecond, c.RetransmitTimeout)

	var sent2 = time.Unix(0, 1150*int64(time.Millisecond))
	var ack2 = time.Unix(0, 1180*int64(time.Millisecond))
	c.OnAck(ack2.Sub(sent2), 8, 1400, ack2)

	assert.Equal(t, 55*time.Millisecond, c.RTTVar())
	assert.InDelta(t, 91250000, c.SRTT().Nanoseconds(), 1)
	assert.InDelta(t, 201250000, c.RetransmitTimeout.Nanoseconds(), 1)

	// seqNum 8 is consecutive with the previous ack (7), so receiving
	// throughput updates: 1000*1400/(1180-1100) = 17500 B/s.
	assert.InDelta(t, 17500, c.ReceivingThroughput(), 0.01)
}

// ObserveAck must advance the consecutive-sequence-number tracking on its
// own, independent of OnAck, so an unmatched ack doesn't leave the next
// legitimate OnAck computing "is this consecutive" against stale state.
func TestObserveAckAdvancesConsecutiveTrackingWithoutOnAck(t *testing.T) {
	var c = New()

	var observedAt = time.Unix(0, 1100*int64(time.Millisecond))
	c.ObserveAck(7, observedAt)
	assert.Equal(t, uint32(7), c.LastAckSeqNum())
	assert.Equal(t, observedAt, c.LastAckTime())

	var sent2 = time.Unix(0, 1150*int64(time.Millisecond))
	var ack2 = time.Unix(0, 1180*int64(time.Millisecond))
	c.OnAck(ack2.Sub(sent2), 8, 1400, ack2)

	// seqNum 8 is consecutive with the ObserveAck-only seqNum 7, so
	// receiving throughput still updates: 1000*1400/(1180-1100) = 17500 B/s.
	assert.InDelta(t, 17500, c.ReceivingThroughput(), 0.01)
	assert.Equal(t, uint32(8), c.LastAckSeqNum())
}

// Invariant 7: retransmitTimeout >= 50ms regardless of input.
func TestRetransmitTimeoutClampedAtFloor(t *testing.T) {
	var c = New()
	c.OnAck(1*time.Millisecond, 1, 0, time.Unix(1, 0))
	assert.GreaterOrEqual(t, c.RetransmitTimeout, MinRetransmitTimeout)
}

// Invariant 8: pushInterval and qualityLevel stay within their clamps
// under sustained ramp pressure in either direction.
func TestTickClampsPushIntervalAndQuality(t *testing.T) {
	var c = New()
	var now = time.Unix(0, 0)
	const tick = 66 * time.Millisecond

	// Sustained high sending vs. low receiving throughput ramps down.
	c.receivingThroughput = 1
	for i := 0; i < 5000; i++ {
		c.RecordSent(1_000_000)
		now = now.Add(tick)
		c.Tick(now, tick)
		assert.GreaterOrEqual(t, c.PushInterval, MinPushInterval)
		assert.LessOrEqual(t, c.PushInterval, MaxPushInterval)
		assert.GreaterOrEqual(t, c.QualityLevel, MinQualityLevel)
		assert.LessOrEqual(t, c.QualityLevel, MaxQualityLevel)
	}
	assert.Equal(t, MaxPushInterval, c.PushInterval)
	assert.Equal(t, MinQualityLevel, c.QualityLevel)
}

func TestTickRampUpClamps(t *testing.T) {
	var c = New()
	c.PushInterval = MaxPushInterval
	c.QualityLevel = MinQualityLevel
	c.sendingThroughput = 1
	c.receivingThroughput = 1_000_000

	var now = time.Unix(0, 0)
	const tick = 66 * time.Millisecond
	for i := 0; i < 5000; i++ {
		now = now.Add(tick)
		c.Tick(now, tick)
	}
	assert.Equal(t, MinPushInterval, c.PushInterval)
	assert.Equal(t, MaxQualityLevel, c.QualityLevel)
}

func TestTickHoldsWithinDeadband(t *testing.T) {
	var c = New()
	c.sendingThroughput = 100
	c.receivingThroughput = 100
	c.lastChange = time.Unix(0, 0)

	// 10 bytes over a 100ms tick keeps sendingThroughput at 100 B/s, and the
	// last change is well past the 20-tick gate, so the rule is evaluated.
	c.RecordSent(10)
	var before = c.PushInterval
	c.Tick(time.Unix(10, 0), 100*time.Millisecond)
	assert.Equal(t, before, c.PushInterval)
}
