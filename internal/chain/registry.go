package chain

import (
	"sort"
	"time"

	"github.com/callscope/backend/internal/models"
)

type entry struct {
	conv       models.Conversation
	seq        uint64
	lastActive time.Time
}

// Registry holds the live-known state of conversations. Terminal entries stay
// until their chain merges; seq records discovery order for tie-breaking.
type Registry struct {
	entries map[string]*entry
	nextSeq uint64
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

// Upsert inserts or replaces a conversation and returns the previous state.
// Discovery order is assigned on first insert and never changes. The activity
// clock only moves when the stored state changes, so re-reading an unchanged
// conversation does not keep it fresh.
func (r *Registry) Upsert(c models.Conversation, now time.Time) (models.Conversation, bool) {
	if e, ok := r.entries[c.ID]; ok {
		prev := e.conv
		e.conv = c
		if changed(prev, c) {
			e.lastActive = now
		}
		return prev, true
	}
	r.nextSeq++
	r.entries[c.ID] = &entry{conv: c, seq: r.nextSeq, lastActive: now}
	return models.Conversation{}, false
}

func (r *Registry) Get(id string) (models.Conversation, bool) {
	e, ok := r.entries[id]
	if !ok {
		return models.Conversation{}, false
	}
	return e.conv, true
}

func (r *Registry) seq(id string) uint64 {
	if e, ok := r.entries[id]; ok {
		return e.seq
	}
	return 0
}

func (r *Registry) lastActive(id string) (time.Time, bool) {
	if e, ok := r.entries[id]; ok {
		return e.lastActive, true
	}
	return time.Time{}, false
}

func (r *Registry) Delete(ids ...string) {
	for _, id := range ids {
		delete(r.entries, id)
	}
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// Active returns every conversation still in the active state, in discovery order.
func (r *Registry) Active() []models.Conversation {
	var out []*entry
	for _, e := range r.entries {
		if e.conv.Status == models.StatusActive {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	convs := make([]models.Conversation, 0, len(out))
	for _, e := range out {
		convs = append(convs, e.conv)
	}
	return convs
}

func (r *Registry) Reset() {
	r.entries = map[string]*entry{}
	r.nextSeq = 0
}

func changed(prev, next models.Conversation) bool {
	switch {
	case prev.Status != next.Status,
		prev.ParentID != next.ParentID,
		prev.HandoffReason != next.HandoffReason,
		prev.PartOfHandoff != next.PartOfHandoff,
		prev.MessageCount != next.MessageCount,
		len(prev.Transcript.Segments) != len(next.Transcript.Segments):
		return true
	}
	return !sameTime(prev.EndTime, next.EndTime) || !sameTime(prev.HandoffAt, next.HandoffAt)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
