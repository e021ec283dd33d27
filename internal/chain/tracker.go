package chain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/callscope/backend/internal/models"
)

var (
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrConversationClosed  = errors.New("conversation is no longer active")
	// ErrMergeArchived means the chain merged but its payload was released;
	// the persisted merged call is authoritative.
	ErrMergeArchived = errors.New("merged call no longer held in memory")
)

// DefaultRetainMerged bounds how long merge markers outlive their chain.
const DefaultRetainMerged = 24 * time.Hour

// mergeMarker keeps a merged root idempotent. The merged payload is released
// once the stale window passes; the marker itself lives for RetainMerged.
type mergeMarker struct {
	at   time.Time
	call *models.MergedCall
}

// Tracker owns the registry, the handoff graph and the merge bookkeeping.
// All methods are safe for concurrent use; events are returned to the caller
// rather than published, so the caller decides where they go.
type Tracker struct {
	Logger       zerolog.Logger
	StaleAfter   time.Duration
	RetainMerged time.Duration
	Now          func() time.Time

	mu           sync.Mutex
	registry     *Registry
	graph        *Graph
	mergedByRoot map[string]*mergeMarker
	mergedRootOf map[string]string
}

func NewTracker(logger zerolog.Logger, staleAfter time.Duration) *Tracker {
	return &Tracker{
		Logger:       logger,
		StaleAfter:   staleAfter,
		RetainMerged: DefaultRetainMerged,
		Now:          time.Now,
		registry:     NewRegistry(),
		graph:        NewGraph(),
		mergedByRoot: map[string]*mergeMarker{},
		mergedRootOf: map[string]string{},
	}
}

// Observation describes what Observe did with an incoming conversation.
type Observation struct {
	Existed       bool
	WasActive     bool
	AlreadyMerged bool
	Conversation  models.Conversation
	Events        []Event
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

// Observe upserts c. Status never moves back to active; fields learned from
// transfers survive an update from the history feed. When c becomes terminal
// and belongs to a chain, the chain is evaluated for merging.
func (t *Tracker) Observe(c models.Conversation) Observation {
	t.mu.Lock()
	defer t.mu.Unlock()

	if root, ok := t.mergedRootOf[c.ID]; ok {
		t.Logger.Debug().Str("conversation_id", c.ID).Str("root_id", root).Msg("ignoring update for merged conversation")
		return Observation{Existed: true, AlreadyMerged: true, Conversation: c}
	}

	now := t.now()
	prev, existed := t.registry.Get(c.ID)
	next := c
	if existed {
		next = t.combine(prev, c)
	}
	next = t.clampToHandoff(next)
	t.registry.Upsert(next, now)

	obs := Observation{
		Existed:      existed,
		WasActive:    existed && prev.Status == models.StatusActive,
		Conversation: next,
	}
	becameTerminal := next.Status.Terminal() && (!existed || prev.Status == models.StatusActive)
	if becameTerminal && t.graph.InChain(next.ID) {
		obs.Events = t.evaluateLocked(next.ID, now)
	}
	return obs
}

func (t *Tracker) combine(prev, next models.Conversation) models.Conversation {
	out := next
	if prev.Status.Terminal() {
		if next.Status != prev.Status {
			t.Logger.Debug().Str("conversation_id", next.ID).Str("status", string(prev.Status)).Str("incoming", string(next.Status)).Msg("status is terminal, keeping it")
		}
		out.Status = prev.Status
	}
	if out.EndTime == nil {
		out.EndTime = prev.EndTime
	}
	if out.ParentID == "" {
		out.ParentID = prev.ParentID
	}
	if out.HandoffReason == "" {
		out.HandoffReason = prev.HandoffReason
	}
	if out.HandoffAt == nil {
		out.HandoffAt = prev.HandoffAt
	}
	out.PartOfHandoff = out.PartOfHandoff || prev.PartOfHandoff
	if len(out.Transcript.Segments) == 0 && len(prev.Transcript.Segments) > 0 {
		out.Transcript = prev.Transcript
	}
	if out.Analytics == nil {
		out.Analytics = prev.Analytics
	}
	if out.AudioURL == "" {
		out.AudioURL = prev.AudioURL
	}
	if out.MessageCount == 0 {
		out.MessageCount = prev.MessageCount
	}
	return out
}

// clampToHandoff keeps a child from starting before its parent handed off.
func (t *Tracker) clampToHandoff(c models.Conversation) models.Conversation {
	if c.ParentID == "" {
		return c
	}
	parent, ok := t.registry.Get(c.ParentID)
	if !ok || parent.HandoffAt == nil || !c.StartTime.Before(*parent.HandoffAt) {
		return c
	}
	t.Logger.Warn().
		Str("conversation_id", c.ID).
		Str("parent_id", c.ParentID).
		Time("start_time", c.StartTime).
		Time("handoff_at", *parent.HandoffAt).
		Msg("child starts before parent handoff, clamping")
	c.StartTime = *parent.HandoffAt
	if c.EndTime != nil && c.EndTime.Before(c.StartTime) {
		end := c.StartTime
		c.EndTime = &end
	}
	return c
}

// Transfer records a handoff. The source becomes transferred and the target is
// created (or updated) as an active child. Integrity problems are logged and
// leave the graph untouched.
func (t *Tracker) Transfer(tr models.Transfer) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	log := t.Logger.With().Str("from_id", tr.FromConversationID).Str("to_id", tr.ToConversationID).Logger()
	for _, id := range []string{tr.FromConversationID, tr.ToConversationID} {
		if root, ok := t.mergedRootOf[id]; ok {
			log.Warn().Str("root_id", root).Msg("transfer touches an already merged chain, ignoring")
			return nil
		}
	}
	if err := t.graph.RecordTransfer(tr.FromConversationID, tr.ToConversationID); err != nil {
		if errors.Is(err, ErrCycle) {
			log.Error().Err(err).Msg("transfer would create a cycle")
		} else {
			log.Warn().Err(err).Msg("transfer rejected")
		}
		return nil
	}

	now := t.now()
	at := tr.At
	if at.IsZero() {
		at = now
	}

	parent, ok := t.registry.Get(tr.FromConversationID)
	if !ok {
		log.Warn().Msg("transfer source not seen yet, registering placeholder")
		parent = models.Conversation{
			ID:           tr.FromConversationID,
			StartTime:    at,
			Status:       models.StatusActive,
			AgentID:      "unknown",
			AgentName:    "unknown",
			AgentType:    models.AgentOrchestrator,
			PhoneNumber:  "Unknown",
			CustomerName: "Customer",
			Transcript:   models.NewTranscript(nil),
		}
	}
	parentWasActive := parent.Status == models.StatusActive
	if parentWasActive {
		parent.Status = models.StatusTransferred
		if parent.EndTime == nil {
			end := at
			parent.EndTime = &end
		}
	}
	if parent.HandoffAt == nil {
		h := at
		parent.HandoffAt = &h
	}
	parent.PartOfHandoff = true
	t.registry.Upsert(parent, now)

	child, ok := t.registry.Get(tr.ToConversationID)
	if !ok {
		child = models.Conversation{
			ID:           tr.ToConversationID,
			StartTime:    at,
			Status:       models.StatusActive,
			AgentID:      tr.ToAgentID,
			AgentName:    tr.ToAgentName,
			AgentType:    tr.ToAgentType,
			PhoneNumber:  parent.PhoneNumber,
			CustomerName: parent.CustomerName,
			Transcript:   models.NewTranscript(nil),
		}
		if child.AgentName == "" {
			child.AgentName = "Specialist Agent"
		}
		if child.AgentType == "" {
			child.AgentType = models.AgentSpecialist
		}
	}
	child.ParentID = tr.FromConversationID
	if tr.Reason != "" {
		child.HandoffReason = tr.Reason
	}
	child.PartOfHandoff = true
	child = t.clampToHandoff(child)
	t.registry.Upsert(child, now)

	p, c, trCopy := parent, child, tr
	trCopy.At = at
	events := []Event{{Kind: EventTransferred, Conversation: &c, Parent: &p, Transfer: &trCopy, At: now}}

	// a child that is already terminal may complete the chain
	if child.Status.Terminal() {
		events = append(events, t.evaluateLocked(child.ID, now)...)
	}
	return events
}

// AppendTranscript adds segments to an active conversation. Segments starting
// before the last recorded offset are dropped.
func (t *Tracker) AppendTranscript(id string, segments []models.TranscriptSegment) ([]Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	if c.Status != models.StatusActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrConversationClosed, id, c.Status)
	}

	last := 0.0
	if n := len(c.Transcript.Segments); n > 0 {
		last = c.Transcript.Segments[n-1].StartOffset
	}
	merged := append([]models.TranscriptSegment(nil), c.Transcript.Segments...)
	added := 0
	for _, s := range segments {
		if s.StartOffset < last {
			t.Logger.Warn().Str("conversation_id", id).Float64("offset", s.StartOffset).Float64("last_offset", last).Msg("dropping out-of-order transcript segment")
			continue
		}
		if s.EndOffset < s.StartOffset {
			s.EndOffset = s.StartOffset
		}
		merged = append(merged, s)
		last = s.StartOffset
		added++
	}
	if added == 0 {
		return nil, nil
	}
	c.Transcript = models.NewTranscript(merged)
	now := t.now()
	t.registry.Upsert(c, now)
	return []Event{conversationEvent(EventTranscriptUpdated, c, now)}, nil
}

// Evaluate re-runs chain completion for id. It is a no-op for merged chains.
func (t *Tracker) Evaluate(id string) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.mergedRootOf[id]; ok {
		return nil
	}
	return t.evaluateLocked(id, t.now())
}

func (t *Tracker) evaluateLocked(id string, now time.Time) []Event {
	root, err := t.graph.FindRoot(id)
	if err != nil {
		t.Logger.Error().Err(err).Str("conversation_id", id).Msg("skipping merge")
		return nil
	}
	if _, done := t.mergedByRoot[root]; done {
		return nil
	}

	members, missing := t.collect(root)
	for _, m := range members {
		if !m.conv.Status.Terminal() {
			return nil
		}
	}
	if len(members) == 0 {
		t.Logger.Warn().Str("root_id", root).Msg("no chain members available, skipping merge")
		return nil
	}
	if len(missing) > 0 {
		t.Logger.Warn().Str("root_id", root).Strs("missing", missing).Msg("merging chain without missing members")
	}
	return t.mergeLocked(root, members, now, false)
}

func (t *Tracker) collect(root string) ([]member, []string) {
	ids := t.graph.AllDescendants(root)
	members := make([]member, 0, len(ids))
	var missing []string
	for _, cid := range ids {
		c, ok := t.registry.Get(cid)
		if !ok {
			missing = append(missing, cid)
			continue
		}
		members = append(members, member{conv: c, seq: t.registry.seq(cid)})
	}
	return members, missing
}

func (t *Tracker) mergeLocked(root string, members []member, now time.Time, partial bool) []Event {
	mc := mergeChain(root, members, now, partial)
	stored := mc
	t.mergedByRoot[root] = &mergeMarker{at: now, call: &stored}
	ids := t.graph.AllDescendants(root)
	for _, id := range ids {
		t.mergedRootOf[id] = root
	}
	t.graph.Remove(ids...)
	t.registry.Delete(ids...)

	t.Logger.Info().Str("root_id", root).Str("merged_id", mc.ID).Int("members", len(mc.MemberIDs)).Bool("partial", partial).Msg("chain merged")
	return []Event{{Kind: EventMerged, Merged: &mc, At: now}}
}

// Sweep force-merges chains with no activity for StaleAfter and evicts
// standalone terminal conversations older than that. Standalone active
// conversations are never terminated here. Merged payloads older than
// StaleAfter are released and merge markers older than RetainMerged dropped.
func (t *Tracker) Sweep(now time.Time) []Event {
	if t.StaleAfter <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.StaleAfter)
	var events []Event
	roots := map[string]struct{}{}
	for id := range t.graph.nodes {
		root, err := t.graph.FindRoot(id)
		if err != nil {
			continue
		}
		roots[root] = struct{}{}
	}
	for root := range roots {
		members, missing := t.collect(root)
		if len(members) == 0 {
			t.graph.Remove(t.graph.AllDescendants(root)...)
			continue
		}
		stale := true
		for _, m := range members {
			if last, ok := t.registry.lastActive(m.conv.ID); ok && last.After(cutoff) {
				stale = false
				break
			}
		}
		if !stale {
			continue
		}
		t.Logger.Warn().Str("root_id", root).Strs("missing", missing).Msg("chain stale, force merging with partial data")
		events = append(events, t.mergeLocked(root, members, now, true)...)
	}

	var evict []string
	for id, e := range t.registry.entries {
		if e.conv.Status.Terminal() && !t.graph.Has(id) && e.lastActive.Before(cutoff) {
			evict = append(evict, id)
		}
	}
	t.registry.Delete(evict...)
	t.pruneMergedLocked(now, cutoff)
	return events
}

func (t *Tracker) pruneMergedLocked(now, cutoff time.Time) {
	retain := t.RetainMerged
	if retain <= 0 {
		retain = DefaultRetainMerged
	}
	if retain < t.StaleAfter {
		retain = t.StaleAfter
	}
	expired := now.Add(-retain)
	released, dropped := 0, 0
	for root, m := range t.mergedByRoot {
		switch {
		case m.at.Before(expired):
			delete(t.mergedByRoot, root)
			dropped++
		case m.call != nil && m.at.Before(cutoff):
			m.call = nil
			released++
		}
	}
	if dropped > 0 {
		for id, root := range t.mergedRootOf {
			if _, ok := t.mergedByRoot[root]; !ok {
				delete(t.mergedRootOf, id)
			}
		}
	}
	if released > 0 || dropped > 0 {
		t.Logger.Debug().Int("released", released).Int("dropped", dropped).Int("markers", len(t.mergedByRoot)).Msg("pruned merge bookkeeping")
	}
}

func (t *Tracker) Get(id string) (models.Conversation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registry.Get(id)
}

func (t *Tracker) Active() []models.Conversation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registry.Active()
}

// Merged returns the merged call that absorbed id while it is still held.
func (t *Tracker) Merged(id string) (models.MergedCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	root, ok := t.mergedRootOf[id]
	if !ok {
		return models.MergedCall{}, false
	}
	m, ok := t.mergedByRoot[root]
	if !ok || m.call == nil {
		return models.MergedCall{}, false
	}
	return *m.call, true
}

type JourneyView struct {
	RootID string               `json:"root_id"`
	Steps  []models.JourneyStep `json:"steps"`
	Merged *models.MergedCall   `json:"merged,omitempty"`
}

// Journey returns the live chain view for id or, once merged, the held merge.
// A merge whose payload was released returns ErrMergeArchived with RootID set.
func (t *Tracker) Journey(id string) (JourneyView, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if root, ok := t.mergedRootOf[id]; ok {
		m, held := t.mergedByRoot[root]
		if !held || m.call == nil {
			return JourneyView{RootID: root}, fmt.Errorf("%w: %s", ErrMergeArchived, root)
		}
		mc := *m.call
		return JourneyView{RootID: root, Steps: mc.Journey, Merged: &mc}, nil
	}
	if _, ok := t.registry.Get(id); !ok && !t.graph.Has(id) {
		return JourneyView{}, fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	root, err := t.graph.FindRoot(id)
	if err != nil {
		return JourneyView{}, err
	}
	members, _ := t.collect(root)
	orderMembers(members)
	return JourneyView{RootID: root, Steps: buildJourney(members)}, nil
}

// Reset drops all state, including merge markers.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.registry.Reset()
	t.graph.Reset()
	t.mergedByRoot = map[string]*mergeMarker{}
	t.mergedRootOf = map[string]string{}
}
