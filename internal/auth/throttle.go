package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedUsernames bounds the throttle's memory. Once that many usernames are tracked
// and none has been idle long enough to forget, attempts for new usernames are refused.
const maxTrackedUsernames = 4096

// A bucket refills completely within a minute, so a limiter idle that long can be dropped
// and recreated full without changing what it would allow.
const idleAfter = time.Minute

type tracked struct {
	limiter *rate.Limiter
	seen    time.Time
}

// throttle keeps one token bucket per username. A nil throttle allows everything.
type throttle struct {
	mu       sync.Mutex
	perMin   int
	max      int
	now      func() time.Time
	limiters map[string]*tracked
}

func newThrottle(perMinute int) *throttle {
	if perMinute <= 0 {
		return nil
	}
	return &throttle{
		perMin:   perMinute,
		max:      maxTrackedUsernames,
		now:      time.Now,
		limiters: make(map[string]*tracked),
	}
}

func (t *throttle) allow(username string) bool {
	if t == nil {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry, ok := t.limiters[username]
	if !ok {
		if len(t.limiters) >= t.max {
			t.sweep(now)
		}
		if len(t.limiters) >= t.max {
			return false
		}
		entry = &tracked{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(t.perMin)), t.perMin)}
		t.limiters[username] = entry
	}
	entry.seen = now

	return entry.limiter.AllowN(now, 1)
}

// sweep forgets every username idle for at least idleAfter.
func (t *throttle) sweep(now time.Time) {
	for name, entry := range t.limiters {
		if now.Sub(entry.seen) >= idleAfter {
			delete(t.limiters, name)
		}
	}
}
