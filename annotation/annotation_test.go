package annotation

import (
	"testing"

	"github.com/signalsfoundry/obstacle-shadowing/model"
)

func TestManagerKeepsBoundedHistory(t *testing.T) {
	m := NewManager(2, nil)
	for i := 0; i < 3; i++ {
		m.DrawBubble(model.Position{X: float64(i)}, "hit")
	}

	if m.Total() != 3 {
		t.Fatalf("Total = %d, want 3", m.Total())
	}
	recent := m.Recent()
	if len(recent) != 2 || recent[0].At.X != 1 || recent[1].At.X != 2 {
		t.Fatalf("Recent = %+v, want bubbles at x=1, x=2", recent)
	}
}

func TestManagerRecentBeforeWrap(t *testing.T) {
	m := NewManager(4, nil)
	m.DrawBubble(model.Position{X: 7}, "hit")
	if recent := m.Recent(); len(recent) != 1 || recent[0].At.X != 7 {
		t.Fatalf("Recent = %+v", recent)
	}
}

func TestManagerHotspots(t *testing.T) {
	m := NewManager(0, nil)
	a := model.Position{X: 1}
	b := model.Position{X: 2}
	m.DrawBubble(b, "hit")
	m.DrawBubble(a, "hit")
	m.DrawBubble(b, "hit")

	spots := m.Hotspots(5)
	if len(spots) != 2 {
		t.Fatalf("Hotspots = %+v, want 2 entries", spots)
	}
	if spots[0].At != b || spots[0].Count != 2 || spots[1].At != a {
		t.Fatalf("Hotspots order = %+v", spots)
	}
	if got := m.Hotspots(1); len(got) != 1 {
		t.Fatalf("Hotspots(1) len = %d", len(got))
	}
}
