package sim

import (
	"testing"
	"time"

	"github.com/signalsfoundry/obstacle-shadowing/timectrl"
)

var epoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestEventScheduler_RunsInTimeOrderFIFOForTies(t *testing.T) {
	clock := timectrl.NewClock(epoch)
	s := NewEventScheduler(clock)

	var order []string
	var seen []time.Time
	record := func(name string) func() {
		return func() {
			order = append(order, name)
			seen = append(seen, clock.Now())
		}
	}
	s.Schedule(epoch.Add(2*time.Second), record("c"))
	s.Schedule(epoch.Add(time.Second), record("a"))
	s.Schedule(epoch.Add(time.Second), record("b"))

	if err := s.RunUntil(epoch.Add(5 * time.Second)); err != nil {
		t.Fatalf("RunUntil: %v", err)
	}

	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if !seen[0].Equal(epoch.Add(time.Second)) || !seen[2].Equal(epoch.Add(2*time.Second)) {
		t.Fatalf("clock not advanced to event times: %v", seen)
	}
	if got := clock.Now(); !got.Equal(epoch.Add(5 * time.Second)) {
		t.Fatalf("clock after run = %v, want end", got)
	}
}

func TestEventScheduler_LeavesFutureEventsPending(t *testing.T) {
	clock := timectrl.NewClock(epoch)
	s := NewEventScheduler(clock)

	ran := false
	s.Schedule(epoch.Add(10*time.Second), func() { ran = true })
	if err := s.RunUntil(epoch.Add(time.Second)); err != nil {
		t.Fatalf("RunUntil: %v", err)
	}
	if ran || s.Pending() != 1 {
		t.Fatalf("future event ran=%v pending=%d", ran, s.Pending())
	}
	if err := s.RunUntil(epoch.Add(10 * time.Second)); err != nil {
		t.Fatalf("RunUntil: %v", err)
	}
	if !ran || s.Pending() != 0 {
		t.Fatalf("event should run at its time: ran=%v pending=%d", ran, s.Pending())
	}
}

func TestEventScheduler_CancelAndReschedule(t *testing.T) {
	clock := timectrl.NewClock(epoch)
	s := NewEventScheduler(clock)

	count := 0
	id := s.Schedule(epoch.Add(time.Second), func() { count += 100 })
	s.Cancel(id)
	s.Cancel(id)
	s.Cancel("unknown")

	var tick func()
	tick = func() {
		count++
		if count < 3 {
			s.After(time.Second, tick)
		}
	}
	s.After(0, tick)

	if err := s.RunUntil(epoch.Add(time.Minute)); err != nil {
		t.Fatalf("RunUntil: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	if s.Ran() != 3 {
		t.Fatalf("Ran = %d, want 3", s.Ran())
	}
}

func TestEventScheduler_Stop(t *testing.T) {
	clock := timectrl.NewClock(epoch)
	s := NewEventScheduler(clock)

	ran := 0
	s.Schedule(epoch.Add(time.Second), func() { ran++; s.Stop() })
	s.Schedule(epoch.Add(2*time.Second), func() { ran++ })

	if err := s.RunUntil(epoch.Add(time.Minute)); err != nil {
		t.Fatalf("RunUntil: %v", err)
	}
	if ran != 1 {
		t.Fatalf("ran = %d, want 1", ran)
	}
	if got := clock.Now(); !got.Equal(epoch.Add(time.Second)) {
		t.Fatalf("clock = %v, want time of stopping event", got)
	}
}

func TestEventScheduler_PastEventsRunNow(t *testing.T) {
	clock := timectrl.NewClock(epoch)
	s := NewEventScheduler(clock)
	if err := clock.AdvanceTo(epoch.Add(time.Minute)); err != nil {
		t.Fatalf("AdvanceTo: %v", err)
	}

	var at time.Time
	s.Schedule(epoch, func() { at = clock.Now() })
	if err := s.RunUntil(epoch.Add(time.Minute)); err != nil {
		t.Fatalf("RunUntil: %v", err)
	}
	if !at.Equal(epoch.Add(time.Minute)) {
		t.Fatalf("past event ran at %v, want now", at)
	}
}
