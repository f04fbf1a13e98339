package recorder

import "time"

// Segment is one bounded capture file owned by the buffer until evicted.
type Segment struct {
	Path      string        `json:"path"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"started_at"`
}

// chain is the ordered, retention-bounded segment buffer.
type chain struct {
	segments []Segment
	total    time.Duration
}

// push appends seg and evicts from the head while the remaining suffix still
// covers window. The last segment is never evicted.
func (c *chain) push(seg Segment, window time.Duration) []Segment {
	c.segments = append(c.segments, seg)
	c.total += seg.Duration

	var evicted []Segment
	for len(c.segments) > 1 && c.total-c.segments[0].Duration >= window {
		head := c.segments[0]
		c.segments[0] = Segment{}
		c.segments = c.segments[1:]
		c.total -= head.Duration
		evicted = append(evicted, head)
	}
	return evicted
}

func (c *chain) snapshot() []Segment {
	out := make([]Segment, len(c.segments))
	copy(out, c.segments)
	return out
}

// drain empties the chain and hands every segment to the caller.
func (c *chain) drain() []Segment {
	out := c.segments
	c.segments = nil
	c.total = 0
	return out
}

func (c *chain) len() int { return len(c.segments) }

// TotalDuration sums the durations of segs.
func TotalDuration(segs []Segment) time.Duration {
	var total time.Duration
	for _, s := range segs {
		total += s.Duration
	}
	return total
}

// clampDuration rounds an observed capture duration to whole seconds and
// bounds it to [1s, max].
func clampDuration(observed, max time.Duration) time.Duration {
	d := observed.Round(time.Second)
	if d < time.Second {
		d = time.Second
	}
	if max > 0 && d > max {
		d = max
	}
	return d
}
