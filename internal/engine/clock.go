package engine

import "sync/atomic"

// Clock stamps run events with a strictly increasing sequence number.
//
// Workers finish in whatever order the chain confirms them, so the wall
// clock says little about which notification came first. Seq does: a
// listener sorting by Seq sees events in exactly the order the engine
// emitted them.
//
// Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that continues after start. A caller running
// several plans in sequence can share one numbering this way.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last number handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
