package delivery

import (
	"testing"
	"time"
)

func TestRetrySchedulerNextDelay(t *testing.T) {
	t.Parallel()

	schedule := []time.Duration{10 * time.Second, time.Minute}

	tests := []struct {
		name    string
		r       float64
		attempt int
		want    time.Duration
		ok      bool
	}{
		{name: "lower bound", r: 0, attempt: 0, want: 8 * time.Second, ok: true},
		{name: "midpoint", r: 0.5, attempt: 1, want: time.Minute, ok: true},
		{name: "exhausted", r: 0.5, attempt: 2, ok: false},
		{name: "negative", r: 0.5, attempt: -1, ok: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewRetrySchedulerWithRand(schedule, func() float64 { return tt.r })
			got, ok := s.NextDelay(tt.attempt)
			if ok != tt.ok {
				t.Fatalf("NextDelay(%d) ok = %v, want %v", tt.attempt, ok, tt.ok)
			}
			if got != tt.want {
				t.Fatalf("NextDelay(%d) = %s, want %s", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestRetrySchedulerJitterBounds(t *testing.T) {
	t.Parallel()

	s := NewRetryScheduler(DefaultRetrySchedule)
	for attempt, base := range DefaultRetrySchedule {
		for i := 0; i < 50; i++ {
			got, ok := s.NextDelay(attempt)
			if !ok {
				t.Fatalf("NextDelay(%d) ok = false", attempt)
			}
			low := time.Duration(float64(base) * 0.8)
			high := time.Duration(float64(base) * 1.2)
			if got < low || got > high {
				t.Fatalf("NextDelay(%d) = %s, want within [%s, %s]", attempt, got, low, high)
			}
		}
	}
}

func TestRetrySchedulerDefaults(t *testing.T) {
	t.Parallel()

	s := NewRetrySchedulerWithRand(nil, nil)
	if s.Len() != len(DefaultRetrySchedule) {
		t.Fatalf("Len() = %d, want %d", s.Len(), len(DefaultRetrySchedule))
	}
	if s.IsExhausted(len(DefaultRetrySchedule) - 1) {
		t.Fatal("IsExhausted() = true before the last retry")
	}
	if !s.IsExhausted(len(DefaultRetrySchedule)) {
		t.Fatal("IsExhausted() = false after the schedule")
	}
}
