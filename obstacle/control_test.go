package obstacle

import (
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/obstacle-shadowing/model"
)

func newTestControl(t *testing.T) *Control {
	t.Helper()
	c := NewControl(10)
	if err := c.AddType(building); err != nil {
		t.Fatalf("AddType error: %v", err)
	}
	return c
}

func TestControl_IsAnyObstacleDefined(t *testing.T) {
	c := NewControl(0)
	if c.IsAnyObstacleDefined() {
		t.Fatalf("expected no obstacle types on an empty registry")
	}
	if err := c.AddType(building); err != nil {
		t.Fatalf("AddType error: %v", err)
	}
	if !c.IsAnyObstacleDefined() {
		t.Fatalf("expected obstacle types after AddType")
	}
	if err := c.AddType(building); !errors.Is(err, ErrTypeExists) {
		t.Fatalf("duplicate AddType err = %v, want ErrTypeExists", err)
	}
}

func TestControl_AddObstacleErrors(t *testing.T) {
	c := newTestControl(t)

	unknown, err := New("o1", "tree", square(0, 0, 1))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := c.AddObstacle(unknown); !errors.Is(err, ErrTypeNotFound) {
		t.Fatalf("AddObstacle unknown type err = %v, want ErrTypeNotFound", err)
	}

	if err := c.AddObstacle(mustObstacle(t, "o1", square(0, 0, 1))); err != nil {
		t.Fatalf("AddObstacle error: %v", err)
	}
	if err := c.AddObstacle(mustObstacle(t, "o1", square(5, 5, 1))); !errors.Is(err, ErrObstacleExists) {
		t.Fatalf("duplicate AddObstacle err = %v, want ErrObstacleExists", err)
	}
	if err := c.RemoveObstacle("missing"); !errors.Is(err, ErrObstacleNotFound) {
		t.Fatalf("RemoveObstacle missing err = %v, want ErrObstacleNotFound", err)
	}
}

func TestControl_PotentialObstaclesUsesGridAndInsertionOrder(t *testing.T) {
	c := newTestControl(t)
	far := mustObstacle(t, "far", square(100, 0, 5))
	near := mustObstacle(t, "near", square(0, 0, 5))
	if err := c.AddObstacle(far); err != nil {
		t.Fatalf("AddObstacle far: %v", err)
	}
	if err := c.AddObstacle(near); err != nil {
		t.Fatalf("AddObstacle near: %v", err)
	}

	got := c.PotentialObstacles(model.Position{X: 1, Y: 1}, model.Position{X: 6, Y: 6})
	if len(got) != 1 || got[0].ID != "near" {
		t.Fatalf("short query = %v, want [near]", ids(got))
	}

	got = c.PotentialObstacles(model.Position{X: 1, Y: 1}, model.Position{X: 104, Y: 1})
	if len(got) != 2 || got[0].ID != "far" || got[1].ID != "near" {
		t.Fatalf("long query = %v, want [far near]", ids(got))
	}
}

func TestControl_MoveObstacleKeepsOrderAndReindexes(t *testing.T) {
	c := newTestControl(t)
	if err := c.AddObstacle(mustObstacle(t, "a", square(0, 0, 5))); err != nil {
		t.Fatalf("AddObstacle a: %v", err)
	}
	if err := c.AddObstacle(mustObstacle(t, "b", square(50, 0, 5))); err != nil {
		t.Fatalf("AddObstacle b: %v", err)
	}
	if err := c.MoveObstacle("a", square(60, 0, 5)); err != nil {
		t.Fatalf("MoveObstacle: %v", err)
	}

	if got := c.PotentialObstacles(model.Position{X: 1, Y: 1}, model.Position{X: 4, Y: 4}); len(got) != 0 {
		t.Fatalf("old location still indexed: %v", ids(got))
	}
	got := c.PotentialObstacles(model.Position{X: 51, Y: 1}, model.Position{X: 64, Y: 1})
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("query after move = %v, want [a b]", ids(got))
	}
	if got := c.GetObstacle("a").Type; got != building.Name {
		t.Fatalf("moved obstacle type = %q, want %q", got, building.Name)
	}
}

func TestControl_CalculateAttenuation(t *testing.T) {
	c := newTestControl(t)
	o := mustObstacle(t, "o1", square(0, 0, 10))
	if err := c.AddObstacle(o); err != nil {
		t.Fatalf("AddObstacle: %v", err)
	}
	got := c.CalculateAttenuation(model.Position{X: -5, Y: 5}, model.Position{X: 15, Y: 5}, o)
	want := math.Pow(10, -2.2)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("CalculateAttenuation = %v, want %v", got, want)
	}
}

func TestControl_SubscribeNotifiesAndUnsubscribes(t *testing.T) {
	c := newTestControl(t)

	var first, second []EventType
	unsubFirst := c.Subscribe(func(ev Event) { first = append(first, ev.Type) })
	unsubSecond := c.Subscribe(func(ev Event) { second = append(second, ev.Type) })
	defer unsubSecond()

	if err := c.AddObstacle(mustObstacle(t, "o1", square(0, 0, 1))); err != nil {
		t.Fatalf("AddObstacle: %v", err)
	}
	if err := c.MoveObstacle("o1", square(2, 2, 1)); err != nil {
		t.Fatalf("MoveObstacle: %v", err)
	}
	unsubFirst()
	unsubFirst()
	if err := c.RemoveObstacle("o1"); err != nil {
		t.Fatalf("RemoveObstacle: %v", err)
	}
	c.Clear()

	if len(first) != 2 || first[0] != EventObstacleAdded || first[1] != EventObstacleMoved {
		t.Fatalf("first subscriber events = %v", first)
	}
	want := []EventType{EventObstacleAdded, EventObstacleMoved, EventObstacleRemoved, EventCleared}
	if len(second) != len(want) {
		t.Fatalf("second subscriber events = %v, want %v", second, want)
	}
	for i := range want {
		if second[i] != want[i] {
			t.Fatalf("second subscriber events = %v, want %v", second, want)
		}
	}
}

func ids(obs []*Obstacle) []string {
	out := make([]string, 0, len(obs))
	for _, o := range obs {
		out = append(out, o.ID)
	}
	return out
}
