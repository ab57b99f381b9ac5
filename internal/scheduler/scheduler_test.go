package scheduler

import (
	"testing"
	"time"
)

func TestScheduleOnceRunsAfterDelay(t *testing.T) {
	s := New()
	done := make(chan struct{})
	s.ScheduleOnce(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("task did not run within the expected window")
	}
}

func TestCancelPreventsExecution(t *testing.T) {
	s := New()
	ran := make(chan struct{}, 1)
	cancel := s.ScheduleOnce(20*time.Millisecond, func() { ran <- struct{}{} })
	cancel()

	select {
	case <-ran:
		t.Fatal("task ran despite being cancelled")
	case <-time.After(50 * time.Millisecond):
	}
}
