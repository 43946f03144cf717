package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceDeliversEveryTick(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewFake(start)
	tk := c.NewTicker(time.Minute)

	c.Advance(150 * time.Second)

	if got := c.Now(); !got.Equal(start.Add(150 * time.Second)) {
		t.Fatalf("expected now to advance, got %v", got)
	}
	var ticks []time.Time
	for len(tk.C()) > 0 {
		ticks = append(ticks, <-tk.C())
	}
	if len(ticks) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(ticks))
	}
	if !ticks[0].Equal(start.Add(time.Minute)) || !ticks[1].Equal(start.Add(2*time.Minute)) {
		t.Errorf("unexpected tick times: %v", ticks)
	}
}

func TestFakeStoppedTickerIsSilent(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	tk.Stop()
	c.Advance(5 * time.Second)
	if len(tk.C()) != 0 {
		t.Errorf("stopped ticker should not receive ticks")
	}
}
