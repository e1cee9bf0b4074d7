// Package adaptive implements the Adaptive Controller: per-session RTT
// estimation (Jacobson-style), EWMA throughput tracking, and the
// push-interval / Tight-quality-level adaptation rule described in
// SPEC_FULL.md §4.E.
package adaptive

import "time"

// Clamp ranges from the data model (SPEC_FULL.md §3).
const (
	MinPushInterval = 42 * time.Millisecond
	MaxPushInterval = 1000 * time.Millisecond

	MinRetransmitTimeout = 50 * time.Millisecond

	MinQualityLevel = 1
	MaxQualityLevel = 3
)

// Controller holds one session's adaptive state. The zero value is not
// ready for use; call New.
type Controller struct {
	PushInterval      time.Duration
	RetransmitTimeout time.Duration
	QualityLevel      int

	srtt    time.Duration
	rttvar  time.Duration
	rttInit bool

	sendingThroughput   float64 // bytes/sec
	receivingThroughput float64 // bytes/sec

	tickSentBytes int
	lastChange    time.Time

	lastAckSeqNum uint32
	lastAckTime   time.Time
	haveAck       bool
}

// New returns a Controller initialized to the source's defaults: a 66ms
// initial push interval (15fps), quality level 3 (best), and the clamp
// floor for retransmit timeout until the first RTT sample arrives.
func New() *Controller {
	return &Controller{
		PushInterval:      66 * time.Millisecond,
		RetransmitTimeout: MinRetransmitTimeout,
		QualityLevel:      MaxQualityLevel,
	}
}

// RecordSent accounts numBytes toward the current tick's sent-byte total,
// consumed by the next Tick call.
func (c *Controller) RecordSent(numBytes int) {
	c.tickSentBytes += numBytes
}

// OnAck updates RTT estimation and, for acks of consecutive sequence
// numbers, receiving throughput, per SPEC_FULL.md §4.E and worked example
// S3. sample is the observed round-trip time for this ack (now - sendTime
// of the acked entry); seqNum/numBytes/now describe the acked update.
func (c *Controller) OnAck(sample time.Duration, seqNum uint32, numBytes int, now time.Time) {
	if !c.rttInit {
		c.srtt = sample
		c.rttvar = sample / 2
		c.rttInit = true
	} else {
		var diff = c.srtt - sample
		if diff < 0 {
			diff = -diff
		}
		c.rttvar = c.rttvar*3/4 + diff/4
		c.srtt = c.srtt*7/8 + sample/8
	}

	c.RetransmitTimeout = c.srtt + 2*c.rttvar
	if c.RetransmitTimeout < MinRetransmitTimeout {
		c.RetransmitTimeout = MinRetransmitTimeout
	}

	if c.haveAck && c.lastAckSeqNum+1 == seqNum && !c.lastAckTime.IsZero() {
		var elapsed = now.Sub(c.lastAckTime)
		if elapsed > 0 {
			var t = 1000 * float64(numBytes) / float64(elapsed.Milliseconds())
			if c.receivingThroughput == 0 {
				c.receivingThroughput = t
			} else {
				c.receivingThroughput = 0.875*c.receivingThroughput + 0.125*t
			}
		}
	}

	c.ObserveAck(seqNum, now)
}

// ObserveAck unconditionally records that an ack for seqNum arrived at now,
// independent of whether the caller could match it to an in-flight send
// (e.g. a duplicate or late ack for an entry already retired from the
// Unacked-Queue). Without this, the consecutive-sequence-number tracking
// OnAck's receiving-throughput calculation depends on goes stale across an
// unmatched ack, corrupting the "is this consecutive" check for the next
// legitimate one.
func (c *Controller) ObserveAck(seqNum uint32, now time.Time) {
	c.lastAckSeqNum = seqNum
	c.lastAckTime = now
	c.haveAck = true
}

// LastAckSeqNum returns the sequence number of the most recently observed
// ack, matched or not.
func (c *Controller) LastAckSeqNum() uint32 { return c.lastAckSeqNum }

// LastAckTime returns the time of the most recently observed ack.
func (c *Controller) LastAckTime() time.Time { return c.lastAckTime }

// Tick is invoked every tickInterval. It refreshes sendingThroughput from
// the bytes accumulated since the previous Tick and, if at least
// 20*tickInterval has elapsed since the last adaptation, applies the ramp
// up/down/hold rule. now is the current time; tickInterval is the caller's
// configured tick period (the source uses 66ms).
func (c *Controller) Tick(now time.Time, tickInterval time.Duration) {
	var instant = 1000 * float64(c.tickSentBytes) / float64(tickInterval.Milliseconds())
	if c.sendingThroughput == 0 {
		c.sendingThroughput = instant
	} else {
		c.sendingThroughput = 0.75*c.sendingThroughput + 0.25*instant
	}
	c.tickSentBytes = 0

	if c.lastChange.IsZero() {
		c.lastChange = now
	}
	if now.Sub(c.lastChange) < 20*tickInterval {
		return
	}

	// Quality-level formula: this implementation resolves the source's
	// comment/code disagreement (SPEC_FULL.md §4.E and §9 Open Questions)
	// with (level-1)/(3-1) over the effective clamp range [1,3], so level 1
	// maps to 0% and level 3 to 100%, the same [0,1] scale as intervalPct.
	var qualityPct = float64(c.QualityLevel-1) / float64(3-1)
	var intervalPct = float64(MaxPushInterval-c.PushInterval) / float64(MaxPushInterval-MinPushInterval)

	switch {
	case c.sendingThroughput > c.receivingThroughput:
		if qualityPct >= intervalPct {
			c.QualityLevel--
			if c.QualityLevel < MinQualityLevel {
				c.QualityLevel = MinQualityLevel
			}
		} else {
			c.PushInterval += 5 * time.Millisecond
			if c.PushInterval > MaxPushInterval {
				c.PushInterval = MaxPushInterval
			}
		}
		c.lastChange = now

	case c.sendingThroughput < 0.9*c.receivingThroughput:
		if qualityPct <= intervalPct {
			c.QualityLevel++
			if c.QualityLevel > MaxQualityLevel {
				c.QualityLevel = MaxQualityLevel
			}
		} else {
			c.PushInterval -= 5 * time.Millisecond
			if c.PushInterval < MinPushInterval {
				c.PushInterval = MinPushInterval
			}
		}
		c.lastChange = now
	}
}

// SendingThroughput returns the current EWMA sending throughput (bytes/sec).
func (c *Controller) SendingThroughput() float64 { return c.sendingThroughput }

// ReceivingThroughput returns the current EWMA receiving throughput (bytes/sec).
func (c *Controller) ReceivingThroughput() float64 { return c.receivingThroughput }

// SRTT returns the current smoothed round-trip time.
func (c *Controller) SRTT() time.Duration { return c.srtt }

// RTTVar returns the current round-trip time variance.
func (c *Controller) RTTVar() time.Duration { return c.rttvar }
