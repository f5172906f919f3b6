package delivery

import (
	"math/rand/v2"
	"sync"
	"time"
)

const jitterDelta = 0.2

// DefaultRetrySchedule is the delay before each retry, indexed by the number
// of attempts already made.
var DefaultRetrySchedule = []time.Duration{
	5 * time.Second,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	5 * time.Hour,
	10 * time.Hour,
	10 * time.Hour,
}

type RetryScheduler struct {
	schedule []time.Duration

	mu    sync.Mutex
	float func() float64
}

func NewRetryScheduler(schedule []time.Duration) *RetryScheduler {
	return NewRetrySchedulerWithRand(schedule, rand.Float64)
}

// NewRetrySchedulerWithRand uses float, returning values in [0, 1), as the
// jitter source.
func NewRetrySchedulerWithRand(schedule []time.Duration, float func() float64) *RetryScheduler {
	if len(schedule) == 0 {
		schedule = DefaultRetrySchedule
	}
	if float == nil {
		float = rand.Float64
	}

	return &RetryScheduler{
		schedule: append([]time.Duration(nil), schedule...),
		float:    float,
	}
}

func (s *RetryScheduler) Len() int {
	return len(s.schedule)
}

// IsExhausted reports whether no retry is left after attemptCount attempts.
func (s *RetryScheduler) IsExhausted(attemptCount int) bool {
	return attemptCount >= len(s.schedule)
}

// NextDelay returns schedule[attemptCount] scaled by a factor in [0.8, 1.2).
// The second result is false once the schedule is exhausted.
func (s *RetryScheduler) NextDelay(attemptCount int) (time.Duration, bool) {
	if attemptCount < 0 || s.IsExhausted(attemptCount) {
		return 0, false
	}

	s.mu.Lock()
	r := s.float()
	s.mu.Unlock()

	factor := 1 - jitterDelta + 2*jitterDelta*r
	return time.Duration(float64(s.schedule[attemptCount]) * factor), true
}
