package scheduler

import (
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// delayedFirst runs first at a fixed time, then follows base.
type delayedFirst struct {
	base  cron.Schedule
	first time.Time
}

func (s *delayedFirst) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

var (
	spreadMu   sync.Mutex
	spreadRand = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// makeIntervalScheduleWithSpread returns an every-interval schedule whose
// first run is pushed back by a random spread of up to min(every, 30s).
func makeIntervalScheduleWithSpread(every time.Duration, now time.Time) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	limit := every
	if limit > maxStartupSpread {
		limit = maxStartupSpread
	}
	if limit <= 0 {
		return base, 0
	}
	spreadMu.Lock()
	spread := time.Duration(spreadRand.Int63n(int64(limit)))
	spreadMu.Unlock()
	return &delayedFirst{base: base, first: now.Add(every + spread)}, spread
}

// RandomMinutes draws a whole number of minutes uniformly from [lo, hi].
// Bounds are truncated to minutes; a band narrower than a minute yields lo.
func RandomMinutes(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	a, b := int64(lo/time.Minute), int64(hi/time.Minute)
	if a < 1 {
		a = 1
	}
	if b <= a {
		return time.Duration(a) * time.Minute
	}
	return time.Duration(a+rng.Int63n(b-a+1)) * time.Minute
}
