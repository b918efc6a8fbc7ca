package gmail

import (
	"testing"
	"time"
)

func TestThrottleSpacesCalls(t *testing.T) {
	th := newThrottle(4)
	var slept []time.Duration
	th.sleep = func(d time.Duration) { slept = append(slept, d) }

	for range 3 {
		th.wait()
	}
	if len(slept) != 2 {
		t.Fatalf("slept=%v", slept)
	}
	if slept[1] <= slept[0] {
		t.Fatalf("expected growing waits, got %v", slept)
	}
	if slept[1] > 2*th.interval {
		t.Fatalf("wait too long: %v", slept[1])
	}
}

func TestThrottleDefaultsToOnePerSecond(t *testing.T) {
	if got := newThrottle(0).interval; got != time.Second {
		t.Fatalf("interval=%v", got)
	}
}
