// Package annotation collects debug annotations ("bubbles") drawn by analogue
// models, standing in for a visual playground overlay.
package annotation

import (
	"context"
	"sort"
	"sync"

	"github.com/signalsfoundry/obstacle-shadowing/internal/logging"
	"github.com/signalsfoundry/obstacle-shadowing/model"
)

// DefaultHistory is the number of recent bubbles kept by a Manager.
const DefaultHistory = 256

// Bubble is a text annotation anchored at a position.
type Bubble struct {
	At   model.Position
	Text string
}

// Hotspot is an anchor with the number of bubbles drawn there.
type Hotspot struct {
	At    model.Position
	Text  string
	Count int
}

// Manager records bubbles. It keeps a bounded history of the most recent
// bubbles plus a per-anchor count. It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	log     logging.Logger
	history []Bubble
	next    int
	full    bool
	counts  map[Bubble]int
	total   int
}

// NewManager creates a Manager keeping up to history recent bubbles; a
// non-positive value uses DefaultHistory.
func NewManager(history int, log logging.Logger) *Manager {
	if history <= 0 {
		history = DefaultHistory
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Manager{
		log:     log,
		history: make([]Bubble, history),
		counts:  make(map[Bubble]int),
	}
}

// DrawBubble records a bubble at the given position.
func (m *Manager) DrawBubble(at model.Position, text string) {
	b := Bubble{At: at, Text: text}

	m.mu.Lock()
	m.history[m.next] = b
	m.next = (m.next + 1) % len(m.history)
	if m.next == 0 {
		m.full = true
	}
	m.counts[b]++
	m.total++
	m.mu.Unlock()

	m.log.Debug(context.Background(), "bubble",
		logging.String("text", text),
		logging.String("at", at.String()),
	)
}

// Total returns the number of bubbles drawn so far.
func (m *Manager) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Recent returns the retained bubbles, oldest first.
func (m *Manager) Recent() []Bubble {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.full {
		return append([]Bubble(nil), m.history[:m.next]...)
	}
	out := make([]Bubble, 0, len(m.history))
	out = append(out, m.history[m.next:]...)
	out = append(out, m.history[:m.next]...)
	return out
}

// Hotspots returns up to n anchors ordered by descending bubble count. Ties
// are broken by position so the order is stable.
func (m *Manager) Hotspots(n int) []Hotspot {
	m.mu.Lock()
	out := make([]Hotspot, 0, len(m.counts))
	for b, c := range m.counts {
		out = append(out, Hotspot{At: b.At, Text: b.Text, Count: c})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].At.X != out[j].At.X {
			return out[i].At.X < out[j].At.X
		}
		return out[i].At.Y < out[j].At.Y
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
