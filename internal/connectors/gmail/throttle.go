package gmail

import (
	"sync"
	"time"
)

// throttle spaces Gmail API calls at a fixed interval.
type throttle struct {
	mu       sync.Mutex
	next     time.Time
	interval time.Duration
	sleep    func(time.Duration)
}

func newThrottle(perSecond int) *throttle {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &throttle{interval: time.Second / time.Duration(perSecond), sleep: time.Sleep}
}

// wait blocks until the caller's slot comes up and reserves the following one.
func (t *throttle) wait() {
	t.mu.Lock()
	now := time.Now()
	slot := now
	if t.next.After(now) {
		slot = t.next
	}
	t.next = slot.Add(t.interval)
	t.mu.Unlock()

	if d := time.Until(slot); d > 0 {
		t.sleep(d)
	}
}
