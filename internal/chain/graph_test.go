package chain

import (
	"errors"
	"testing"
)

// setParentUnchecked writes an edge without the integrity checks, to build
// graphs RecordTransfer would refuse.
func (g *Graph) setParentUnchecked(fromID, toID string) {
	g.AddNode(fromID)
	g.AddNode(toID)
	g.parent[toID] = fromID
	g.children[fromID] = append(g.children[fromID], toID)
}

func TestFindRootWalksToTop(t *testing.T) {
	g := NewGraph()
	if err := g.RecordTransfer("a", "b"); err != nil {
		t.Fatalf("record a->b: %v", err)
	}
	if err := g.RecordTransfer("b", "c"); err != nil {
		t.Fatalf("record b->c: %v", err)
	}
	root, err := g.FindRoot("c")
	if err != nil || root != "a" {
		t.Fatalf("expected root a, got %s (%v)", root, err)
	}
	root, err = g.FindRoot("unknown")
	if err != nil || root != "unknown" {
		t.Fatalf("expected unknown id to be its own root, got %s (%v)", root, err)
	}
}

func TestFindRootTerminatesOnCycle(t *testing.T) {
	g := NewGraph()
	g.setParentUnchecked("a", "b")
	g.setParentUnchecked("b", "a")

	root, err := g.FindRoot("a")
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	if root != "a" {
		t.Fatalf("expected original id as fallback, got %s", root)
	}
}

func TestRecordTransferRefusesCycle(t *testing.T) {
	g := NewGraph()
	if err := g.RecordTransfer("a", "b"); err != nil {
		t.Fatalf("record a->b: %v", err)
	}
	if err := g.RecordTransfer("b", "a"); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	if _, ok := g.Parent("a"); ok {
		t.Fatalf("expected a to stay a root")
	}
}

func TestRecordTransferKeepsFirstParent(t *testing.T) {
	g := NewGraph()
	if err := g.RecordTransfer("a", "c"); err != nil {
		t.Fatalf("record a->c: %v", err)
	}
	if err := g.RecordTransfer("a", "c"); err != nil {
		t.Fatalf("expected repeated edge to be a no-op, got %v", err)
	}
	if err := g.RecordTransfer("b", "c"); !errors.Is(err, ErrParentConflict) {
		t.Fatalf("expected ErrParentConflict, got %v", err)
	}
	if p, _ := g.Parent("c"); p != "a" {
		t.Fatalf("expected parent a to be kept, got %s", p)
	}
	if len(g.Children("a")) != 1 {
		t.Fatalf("expected a single child edge, got %v", g.Children("a"))
	}
	if err := g.RecordTransfer("x", "x"); !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("expected ErrSelfTransfer, got %v", err)
	}
}

func TestAllDescendantsBreadthFirst(t *testing.T) {
	g := NewGraph()
	for _, e := range [][2]string{{"r", "a"}, {"r", "b"}, {"a", "c"}, {"b", "d"}} {
		if err := g.RecordTransfer(e[0], e[1]); err != nil {
			t.Fatalf("record %v: %v", e, err)
		}
	}
	got := g.AllDescendants("r")
	want := []string{"r", "a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if leaf := g.AllDescendants("lonely"); len(leaf) != 1 || leaf[0] != "lonely" {
		t.Fatalf("expected only the root, got %v", leaf)
	}
}

func TestAllDescendantsSurvivesCycle(t *testing.T) {
	g := NewGraph()
	g.setParentUnchecked("a", "b")
	g.setParentUnchecked("b", "a")
	if got := g.AllDescendants("a"); len(got) != 2 {
		t.Fatalf("expected each node once, got %v", got)
	}
}

func TestRemoveDropsEdges(t *testing.T) {
	g := NewGraph()
	_ = g.RecordTransfer("a", "b")
	_ = g.RecordTransfer("b", "c")
	g.Remove("b")
	if g.Has("b") || g.InChain("a") {
		t.Fatalf("expected b and its edges gone")
	}
	if _, ok := g.Parent("c"); ok {
		t.Fatalf("expected c to lose its parent")
	}
}
