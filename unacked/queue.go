// Package unacked implements the Unacked-Queue: the ordered list of
// in-flight, datagram-sent framebuffer updates a Session is waiting to see
// acknowledged. It is kept per-Session (see SPEC_FULL.md §3 on the
// redesign away from the source's process-wide bookkeeping).
package unacked

import (
	"container/list"
	"time"

	"github.com/hanumantb/octopus/region"
)

// Entry is a single in-flight update descriptor, corresponding to the
// source's SendRegionRec.
type Entry struct {
	SeqNum    uint32
	SendTime  time.Time
	NumBytes  uint32
	Region    region.Region
}

// Queue is a FIFO of Entry values ordered by send time (and therefore by
// SeqNum, since sequence numbers are assigned in send order). It is backed
// by container/list: the access pattern is ordered head-to-tail iteration
// plus O(1) append, which is exactly what list.List provides without the
// hand-rolled prev/next pointer bookkeeping the source's intrusive DLL
// required.
type Queue struct {
	l *list.List
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{l: list.New()}
}

// Append adds entry to the tail of the queue. O(1).
func (q *Queue) Append(entry Entry) {
	q.l.PushBack(entry)
}

// Len returns the number of in-flight entries.
func (q *Queue) Len() int { return q.l.Len() }

// DeleteBySeq scans from the head for an entry matching seqNum, removes it,
// and returns it. The second return value is false if no entry matched
// (e.g. a duplicate or late ack for an already-retired update) -- this is a
// Transient condition per the error-handling design, not an error.
func (q *Queue) DeleteBySeq(seqNum uint32) (Entry, bool) {
	for e := q.l.Front(); e != nil; e = e.Next() {
		var entry = e.Value.(Entry)
		if entry.SeqNum == seqNum {
			q.l.Remove(e)
			return entry, true
		}
	}
	return Entry{}, false
}

// AgeScan walks from the head and, for every entry older than timeout,
// unions its Region into the returned aggregate and removes it from the
// queue. Because the queue is maintained in send-time order, the first
// entry younger than timeout ends the scan: no entry after it can be older.
func (q *Queue) AgeScan(now time.Time, timeout time.Duration) region.Region {
	var aggregate region.Region
	for e := q.l.Front(); e != nil; {
		var entry = e.Value.(Entry)
		if now.Sub(entry.SendTime) <= timeout {
			break
		}
		aggregate = aggregate.Union(entry.Region)
		var next = e.Next()
		q.l.Remove(e)
		e = next
	}
	return aggregate
}

// SubtractRegion removes r from every entry's Region, dropping entries that
// become empty as a result. This retires in-flight updates that a freshly
// computed update already supersedes.
func (q *Queue) SubtractRegion(r region.Region) {
	for e := q.l.Front(); e != nil; {
		var entry = e.Value.(Entry)
		var next = e.Next()

		entry.Region = entry.Region.Subtract(r)
		if entry.Region.Empty() {
			q.l.Remove(e)
		} else {
			e.Value = entry
		}
		e = next
	}
}

// DropAll destroys every entry, releasing the queue's regions. Called on
// session disconnect.
func (q *Queue) DropAll() {
	q.l.Init()
}

// Entries returns a snapshot slice of the queue contents, head first. It is
// intended for tests and metrics; the engine itself never needs random
// access.
func (q *Queue) Entries() []Entry {
	var out = make([]Entry, 0, q.l.Len())
	for e := q.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Entry))
	}
	return out
}
