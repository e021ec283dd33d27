package chain

import (
	"errors"
	"fmt"
)

var (
	ErrCycle          = errors.New("handoff cycle detected")
	ErrParentConflict = errors.New("conversation already has a different parent")
	ErrSelfTransfer   = errors.New("conversation cannot transfer to itself")
)

// Graph records parent -> children handoff edges. It is a forest as long as
// RecordTransfer refuses conflicting parents; FindRoot still bounds its walk
// so corrupted input cannot make it loop.
type Graph struct {
	parent   map[string]string
	children map[string][]string
	nodes    map[string]struct{}
}

func NewGraph() *Graph {
	return &Graph{
		parent:   map[string]string{},
		children: map[string][]string{},
		nodes:    map[string]struct{}{},
	}
}

// AddNode makes id known to the graph without any edge.
func (g *Graph) AddNode(id string) {
	g.nodes[id] = struct{}{}
}

func (g *Graph) Len() int {
	return len(g.nodes)
}

func (g *Graph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

func (g *Graph) Parent(id string) (string, bool) {
	p, ok := g.parent[id]
	return p, ok
}

func (g *Graph) Children(id string) []string {
	return append([]string(nil), g.children[id]...)
}

// InChain reports whether id has a parent or any child.
func (g *Graph) InChain(id string) bool {
	if _, ok := g.parent[id]; ok {
		return true
	}
	return len(g.children[id]) > 0
}

// RecordTransfer sets parent(toID) = fromID. Re-recording the same edge is a
// no-op; a different existing parent is left untouched and reported.
func (g *Graph) RecordTransfer(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("%w: %s", ErrSelfTransfer, fromID)
	}
	g.AddNode(fromID)
	g.AddNode(toID)
	if existing, ok := g.parent[toID]; ok {
		if existing == fromID {
			return nil
		}
		return fmt.Errorf("%w: %s has parent %s, refusing %s", ErrParentConflict, toID, existing, fromID)
	}
	if g.isAncestor(toID, fromID) {
		return fmt.Errorf("%w: %s is an ancestor of %s", ErrCycle, toID, fromID)
	}
	g.parent[toID] = fromID
	g.children[fromID] = append(g.children[fromID], toID)
	return nil
}

// FindRoot walks parent links to the chain root. The walk is bounded by the
// number of known nodes; exceeding it means a cycle, and id itself is returned
// together with ErrCycle.
func (g *Graph) FindRoot(id string) (string, error) {
	current := id
	limit := len(g.nodes) + 1
	for steps := 0; ; steps++ {
		if steps > limit {
			return id, fmt.Errorf("%w: walking up from %s", ErrCycle, id)
		}
		p, ok := g.parent[current]
		if !ok {
			return current, nil
		}
		current = p
	}
}

func (g *Graph) isAncestor(candidate, id string) bool {
	current := id
	for steps := 0; steps <= len(g.nodes); steps++ {
		p, ok := g.parent[current]
		if !ok {
			return false
		}
		if p == candidate {
			return true
		}
		current = p
	}
	return true
}

// AllDescendants returns rootID and everything reachable below it, in
// breadth-first order.
func (g *Graph) AllDescendants(rootID string) []string {
	out := []string{rootID}
	seen := map[string]struct{}{rootID: {}}
	for i := 0; i < len(out); i++ {
		for _, child := range g.children[out[i]] {
			if _, ok := seen[child]; ok {
				continue
			}
			seen[child] = struct{}{}
			out = append(out, child)
		}
	}
	return out
}

// Remove drops ids and every edge touching them.
func (g *Graph) Remove(ids ...string) {
	for _, id := range ids {
		if p, ok := g.parent[id]; ok {
			g.children[p] = without(g.children[p], id)
			if len(g.children[p]) == 0 {
				delete(g.children, p)
			}
		}
		for _, c := range g.children[id] {
			delete(g.parent, c)
		}
		delete(g.parent, id)
		delete(g.children, id)
		delete(g.nodes, id)
	}
}

func (g *Graph) Reset() {
	g.parent = map[string]string{}
	g.children = map[string][]string{}
	g.nodes = map[string]struct{}{}
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
