package recorder

import (
	"testing"
	"time"
)

func secs(ds ...int) []Segment {
	out := make([]Segment, len(ds))
	for i, d := range ds {
		out[i] = Segment{Path: string(rune('a' + i)), Duration: time.Duration(d) * time.Second}
	}
	return out
}

func TestChainPushEvictsMinimally(t *testing.T) {
	tests := []struct {
		name      string
		pushes    []int
		window    int
		remaining int
		total     int
		evicted   int
	}{
		{name: "under window", pushes: []int{2, 2, 2}, window: 30, remaining: 3, total: 6},
		{name: "exactly window", pushes: []int{10, 10, 10}, window: 30, remaining: 3, total: 30},
		{name: "one over", pushes: []int{10, 10, 10, 10}, window: 30, remaining: 3, total: 30, evicted: 1},
		{name: "partial tail keeps head", pushes: []int{10, 10, 10, 5}, window: 30, remaining: 4, total: 35},
		{name: "two second segments", pushes: []int{2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2}, window: 30, remaining: 15, total: 30, evicted: 2},
		{name: "uneven", pushes: []int{1, 2, 3, 4}, window: 5, remaining: 2, total: 7, evicted: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c chain
			evicted := 0
			for _, seg := range secs(tt.pushes...) {
				evicted += len(c.push(seg, time.Duration(tt.window)*time.Second))
			}
			if c.len() != tt.remaining {
				t.Errorf("remaining = %d, want %d", c.len(), tt.remaining)
			}
			if c.total != time.Duration(tt.total)*time.Second {
				t.Errorf("total = %s, want %ds", c.total, tt.total)
			}
			if evicted != tt.evicted {
				t.Errorf("evicted = %d, want %d", evicted, tt.evicted)
			}
			if got := TotalDuration(c.snapshot()); got != c.total {
				t.Errorf("snapshot total %s does not match running total %s", got, c.total)
			}
		})
	}
}

func TestChainNeverEvictsLastSegment(t *testing.T) {
	var c chain
	c.push(Segment{Path: "a", Duration: 5 * time.Second}, 30*time.Second)
	evicted := c.push(Segment{Path: "b", Duration: 40 * time.Second}, 30*time.Second)

	if len(evicted) != 1 || evicted[0].Path != "a" {
		t.Fatalf("evicted = %+v, want only a", evicted)
	}
	if c.len() != 1 || c.segments[0].Path != "b" {
		t.Fatalf("chain = %+v, want only b", c.segments)
	}
}

func TestChainDrain(t *testing.T) {
	var c chain
	for _, seg := range secs(2, 2, 2) {
		c.push(seg, 30*time.Second)
	}
	drained := c.drain()
	if len(drained) != 3 {
		t.Fatalf("drained %d segments, want 3", len(drained))
	}
	if c.len() != 0 || c.total != 0 {
		t.Fatalf("chain not empty after drain: len=%d total=%s", c.len(), c.total)
	}
}

func TestClampDuration(t *testing.T) {
	tests := []struct {
		observed time.Duration
		max      time.Duration
		want     time.Duration
	}{
		{observed: 0, max: 2 * time.Second, want: time.Second},
		{observed: 300 * time.Millisecond, max: 2 * time.Second, want: time.Second},
		{observed: 1600 * time.Millisecond, max: 2 * time.Second, want: 2 * time.Second},
		{observed: 2400 * time.Millisecond, max: 2 * time.Second, want: 2 * time.Second},
		{observed: 5 * time.Second, max: 10 * time.Second, want: 5 * time.Second},
		{observed: 12 * time.Second, max: 10 * time.Second, want: 10 * time.Second},
	}
	for _, tt := range tests {
		if got := clampDuration(tt.observed, tt.max); got != tt.want {
			t.Errorf("clampDuration(%s, %s) = %s, want %s", tt.observed, tt.max, got, tt.want)
		}
	}
}
