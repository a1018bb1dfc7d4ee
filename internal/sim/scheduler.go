package sim

import (
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/obstacle-shadowing/timectrl"
)

// Clock is the clock driven by the scheduler.
type Clock interface {
	timectrl.SimClock
	AdvanceTo(t time.Time) error
}

// scheduledEvent represents a single scheduled callback.
type scheduledEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// EventScheduler is a single-threaded discrete-event queue. Events run in
// time order; events scheduled for the same instant run in the order they
// were scheduled. Callbacks may schedule or cancel further events. It is not
// safe for concurrent use.
type EventScheduler struct {
	clock Clock

	counter uint64
	events  []*scheduledEvent // ordered by 'when' (earliest first)
	index   map[string]*scheduledEvent
	stopped bool
	ran     int
}

// NewEventScheduler creates a scheduler that advances clock as it runs.
func NewEventScheduler(clock Clock) *EventScheduler {
	return &EventScheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

// Now returns the current simulation time.
func (s *EventScheduler) Now() time.Time {
	return s.clock.Now()
}

// Schedule registers f to run at simulation time at. Times in the past run
// at the current time. It returns an ID usable with Cancel.
func (s *EventScheduler) Schedule(at time.Time, f func()) (id string) {
	if now := s.clock.Now(); at.Before(now) {
		at = now
	}
	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)

	ev := &scheduledEvent{id: id, when: at, f: f}
	s.addEvent(ev)
	s.index[id] = ev
	return id
}

// After schedules f to run d after the current simulation time.
func (s *EventScheduler) After(d time.Duration, f func()) (id string) {
	return s.Schedule(s.clock.Now().Add(d), f)
}

// addEvent inserts ev after every event scheduled at or before ev.when.
func (s *EventScheduler) addEvent(ev *scheduledEvent) {
	idx := sort.Search(len(s.events), func(i int) bool {
		return ev.when.Before(s.events[i].when)
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
}

// Cancel attempts to cancel a previously scheduled event. It is a no-op if
// the ID is unknown or the event already ran.
func (s *EventScheduler) Cancel(id string) {
	ev, ok := s.index[id]
	if !ok {
		return
	}
	// Removal from s.events is lazy; RunUntil skips cancelled events.
	ev.cancelled = true
	delete(s.index, id)
}

// Pending returns the number of events still scheduled.
func (s *EventScheduler) Pending() int {
	return len(s.index)
}

// Ran returns the number of events executed so far.
func (s *EventScheduler) Ran() int {
	return s.ran
}

// Stop makes the current RunUntil return after the running event.
func (s *EventScheduler) Stop() {
	s.stopped = true
}

// RunUntil executes every event due at or before end in order, advancing the
// clock to each event's time, and finally to end. It returns early, leaving
// the clock at the last executed event, if Stop is called.
func (s *EventScheduler) RunUntil(end time.Time) error {
	s.stopped = false
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when.After(end) {
			break
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)

		if err := s.clock.AdvanceTo(ev.when); err != nil {
			return err
		}
		s.ran++
		if ev.f != nil {
			ev.f()
		}
		if s.stopped {
			return nil
		}
	}
	if s.clock.Now().Before(end) {
		return s.clock.AdvanceTo(end)
	}
	return nil
}
