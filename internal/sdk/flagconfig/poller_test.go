package flagconfig

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestPollerInvokesCallbackRepeatedly(t *testing.T) {
	var calls int64
	p := NewPoller(10*time.Millisecond, func() { atomic.AddInt64(&calls, 1) })
	p.Start()
	time.Sleep(55 * time.Millisecond)
	p.Stop()

	got := atomic.LoadInt64(&calls)
	if got < 3 {
		t.Errorf("expected at least 3 callback invocations in 55ms at 10ms interval, got %d", got)
	}
}

func TestPollerStopReturnsAfterStart(t *testing.T) {
	p := NewPoller(time.Hour, func() {})
	p.Start()
	p.Stop()
}

func TestJitterNeverNegative(t *testing.T) {
	for i := 0; i < 1000; i++ {
		d := jitter(10*time.Millisecond, 20*time.Millisecond)
		if d < 0 {
			t.Fatalf("jitter produced negative duration: %v", d)
		}
	}
}

func TestJitterZeroWhenNoJitter(t *testing.T) {
	if d := jitter(5*time.Millisecond, 0); d != 5*time.Millisecond {
		t.Errorf("expected no-jitter passthrough, got %v", d)
	}
}
