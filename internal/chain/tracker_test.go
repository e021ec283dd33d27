package chain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/callscope/backend/internal/models"
)

var base = time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

func newTestTracker(clock *time.Time) *Tracker {
	tr := NewTracker(zerolog.Nop(), 30*time.Minute)
	tr.Now = func() time.Time { return *clock }
	return tr
}

func conv(id string, status models.Status, startSec, endSec int, agent models.AgentType, segs ...models.TranscriptSegment) models.Conversation {
	c := models.Conversation{
		ID:           id,
		StartTime:    base.Add(time.Duration(startSec) * time.Second),
		Status:       status,
		AgentID:      "agent-" + id,
		AgentName:    "Agent " + id,
		AgentType:    agent,
		PhoneNumber:  "+905551112233",
		CustomerName: "Ayşe",
		Transcript:   models.NewTranscript(segs),
	}
	if endSec >= 0 {
		end := base.Add(time.Duration(endSec) * time.Second)
		c.EndTime = &end
	}
	return c
}

func seg(speaker models.Speaker, text string, at float64) models.TranscriptSegment {
	return models.TranscriptSegment{Speaker: speaker, Text: text, StartOffset: at, EndOffset: at + 2, Confidence: 0.95}
}

func mergedEvents(events []Event) []Event {
	var out []Event
	for _, e := range events {
		if e.Kind == EventMerged {
			out = append(out, e)
		}
	}
	return out
}

func TestTwoAgentHandoffMerges(t *testing.T) {
	clock := base.Add(time.Hour)
	tr := newTestTracker(&clock)

	tr.Observe(conv("A", models.StatusActive, 0, -1, models.AgentOrchestrator,
		seg(models.SpeakerCustomer, "internet is down", 1),
		seg(models.SpeakerAgent, "transferring you", 100)))
	events := tr.Transfer(models.Transfer{
		FromConversationID: "A",
		ToConversationID:   "B",
		Reason:             "technical escalation",
		ToAgentID:          "agent-B",
		ToAgentName:        "Agent B",
		ToAgentType:        models.AgentSpecialist,
		At:                 base.Add(120 * time.Second),
	})
	if len(events) != 1 || events[0].Kind != EventTransferred {
		t.Fatalf("expected one transferred event, got %+v", events)
	}
	if events[0].Parent.Status != models.StatusTransferred {
		t.Fatalf("expected parent to be transferred, got %s", events[0].Parent.Status)
	}

	obs := tr.Observe(conv("A", models.StatusCompleted, 0, 120, models.AgentOrchestrator))
	if len(mergedEvents(obs.Events)) != 0 {
		t.Fatalf("expected no merge while B is active")
	}
	obs = tr.Observe(conv("B", models.StatusCompleted, 120, 300, models.AgentSpecialist,
		seg(models.SpeakerAgent, "let me check the line", 3)))
	merged := mergedEvents(obs.Events)
	if len(merged) != 1 {
		t.Fatalf("expected one merged event, got %d", len(merged))
	}
	mc := merged[0].Merged
	if mc.ID != "merged_A" || mc.RootConversationID != "A" {
		t.Fatalf("unexpected merged identity %s/%s", mc.ID, mc.RootConversationID)
	}
	if len(mc.Journey) != 2 || mc.Journey[0].ConversationID != "A" || mc.Journey[1].ConversationID != "B" {
		t.Fatalf("unexpected journey %+v", mc.Journey)
	}
	if mc.DurationSeconds != 300 {
		t.Fatalf("expected 300s duration, got %v", mc.DurationSeconds)
	}
	if mc.Journey[0].DurationSeconds != 120 || mc.Journey[1].DurationSeconds != 180 {
		t.Fatalf("unexpected step durations %v/%v", mc.Journey[0].DurationSeconds, mc.Journey[1].DurationSeconds)
	}
	if mc.Journey[1].HandoffReason != "technical escalation" {
		t.Fatalf("expected handoff reason on B's step, got %q", mc.Journey[1].HandoffReason)
	}
	if len(mc.Transcript.Segments) != 3 || mc.Transcript.Segments[2].Text != "let me check the line" {
		t.Fatalf("expected A's segments followed by B's, got %+v", mc.Transcript.Segments)
	}
	want := "customer: internet is down\nagent: transferring you\nagent: let me check the line"
	if mc.Transcript.FullText != want {
		t.Fatalf("unexpected full text %q", mc.Transcript.FullText)
	}
	if mc.Partial {
		t.Fatalf("expected a complete merge")
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	clock := base
	tr := newTestTracker(&clock)
	tr.Observe(conv("R", models.StatusActive, 0, -1, models.AgentOrchestrator))
	tr.Transfer(models.Transfer{FromConversationID: "R", ToConversationID: "C", At: base.Add(10 * time.Second)})

	first := tr.Observe(conv("C", models.StatusCompleted, 10, 50, models.AgentSupport))
	if len(mergedEvents(first.Events)) != 1 {
		t.Fatalf("expected merge on last terminal member")
	}

	dup := tr.Observe(conv("C", models.StatusCompleted, 10, 50, models.AgentSupport))
	if !dup.AlreadyMerged || len(dup.Events) != 0 {
		t.Fatalf("expected duplicate terminal event to be ignored, got %+v", dup)
	}
	if events := tr.Evaluate("R"); len(events) != 0 {
		t.Fatalf("expected re-evaluation to emit nothing, got %d events", len(events))
	}
	if events := tr.Transfer(models.Transfer{FromConversationID: "C", ToConversationID: "D"}); events != nil {
		t.Fatalf("expected transfer on merged chain to be ignored")
	}
	if _, ok := tr.Merged("C"); !ok {
		t.Fatalf("expected merged call to be retrievable by member id")
	}
}

func TestJourneyOrderedByStartTime(t *testing.T) {
	clock := base
	tr := newTestTracker(&clock)
	// discovered as t2, t0, t1
	tr.Observe(conv("R", models.StatusActive, 200, -1, models.AgentOrchestrator))
	tr.Observe(conv("X", models.StatusActive, 0, -1, models.AgentSales))
	tr.Observe(conv("Y", models.StatusActive, 100, -1, models.AgentTechnical))
	tr.Transfer(models.Transfer{FromConversationID: "R", ToConversationID: "X", At: base})
	tr.Transfer(models.Transfer{FromConversationID: "R", ToConversationID: "Y", At: base})

	if got := mergedEvents(tr.Observe(conv("X", models.StatusCompleted, 0, 90, models.AgentSales)).Events); len(got) != 0 {
		t.Fatalf("expected no merge while Y is active")
	}
	merged := mergedEvents(tr.Observe(conv("Y", models.StatusCompleted, 100, 150, models.AgentTechnical)).Events)
	if len(merged) != 1 {
		t.Fatalf("expected one merge, got %d", len(merged))
	}
	order := []string{}
	for _, s := range merged[0].Merged.Journey {
		order = append(order, s.ConversationID)
	}
	if len(order) != 3 || order[0] != "X" || order[1] != "Y" || order[2] != "R" {
		t.Fatalf("expected [X Y R], got %v", order)
	}
}

func TestEqualStartTimesUseDiscoveryOrder(t *testing.T) {
	clock := base
	tr := newTestTracker(&clock)
	tr.Observe(conv("R", models.StatusActive, 0, -1, models.AgentOrchestrator))
	tr.Observe(conv("L2", models.StatusActive, 30, -1, models.AgentSupport))
	tr.Observe(conv("L1", models.StatusActive, 30, -1, models.AgentSupport))
	tr.Transfer(models.Transfer{FromConversationID: "R", ToConversationID: "L1", At: base.Add(30 * time.Second)})
	tr.Transfer(models.Transfer{FromConversationID: "R", ToConversationID: "L2", At: base.Add(30 * time.Second)})
	tr.Observe(conv("L1", models.StatusCompleted, 30, 60, models.AgentSupport))
	merged := mergedEvents(tr.Observe(conv("L2", models.StatusCompleted, 30, 70, models.AgentSupport)).Events)
	if len(merged) != 1 {
		t.Fatalf("expected one merge")
	}
	j := merged[0].Merged.Journey
	if j[1].ConversationID != "L2" || j[2].ConversationID != "L1" {
		t.Fatalf("expected L2 before L1 by discovery, got %s, %s", j[1].ConversationID, j[2].ConversationID)
	}
}

func TestTransferCycleIsRejected(t *testing.T) {
	clock := base
	tr := newTestTracker(&clock)
	tr.Observe(conv("A", models.StatusActive, 0, -1, models.AgentOrchestrator))
	tr.Transfer(models.Transfer{FromConversationID: "A", ToConversationID: "B", At: base})
	if events := tr.Transfer(models.Transfer{FromConversationID: "B", ToConversationID: "A", At: base}); events != nil {
		t.Fatalf("expected cycle to be refused, got %+v", events)
	}
	view, err := tr.Journey("B")
	if err != nil || view.RootID != "A" {
		t.Fatalf("expected root A, got %+v (%v)", view, err)
	}
}

func TestChildStartClampedToHandoff(t *testing.T) {
	clock := base
	tr := newTestTracker(&clock)
	tr.Observe(conv("A", models.StatusActive, 0, -1, models.AgentOrchestrator))
	tr.Transfer(models.Transfer{FromConversationID: "A", ToConversationID: "B", At: base.Add(60 * time.Second)})
	obs := tr.Observe(conv("B", models.StatusActive, 30, -1, models.AgentSpecialist))
	if !obs.Conversation.StartTime.Equal(base.Add(60 * time.Second)) {
		t.Fatalf("expected start clamped to handoff, got %s", obs.Conversation.StartTime)
	}
	if obs.Conversation.ParentID != "A" || obs.Conversation.Status != models.StatusActive {
		t.Fatalf("expected B to keep parent and status, got %+v", obs.Conversation)
	}
}

func TestStatusNeverReturnsToActive(t *testing.T) {
	clock := base
	tr := newTestTracker(&clock)
	tr.Observe(conv("S", models.StatusCompleted, 0, 40, models.AgentSupport))
	obs := tr.Observe(conv("S", models.StatusActive, 0, -1, models.AgentSupport))
	if obs.Conversation.Status != models.StatusCompleted {
		t.Fatalf("expected completed to stick, got %s", obs.Conversation.Status)
	}
	if obs.Conversation.EndTime == nil {
		t.Fatalf("expected end time to be kept")
	}
}

func TestStaleChainForceMerged(t *testing.T) {
	clock := base
	tr := newTestTracker(&clock)
	tr.Observe(conv("A", models.StatusActive, 0, -1, models.AgentOrchestrator))
	tr.Transfer(models.Transfer{FromConversationID: "A", ToConversationID: "B", At: base.Add(20 * time.Second)})

	if events := tr.Sweep(clock.Add(10 * time.Minute)); len(events) != 0 {
		t.Fatalf("expected fresh chain to be left alone")
	}
	events := tr.Sweep(clock.Add(31 * time.Minute))
	merged := mergedEvents(events)
	if len(merged) != 1 || !merged[0].Merged.Partial {
		t.Fatalf("expected one partial merge, got %+v", events)
	}
	if merged[0].Merged.Journey[1].DurationSeconds != 0 {
		t.Fatalf("expected active member to contribute zero duration")
	}
	if events := tr.Sweep(clock.Add(2 * time.Hour)); len(events) != 0 {
		t.Fatalf("expected no second merge")
	}
}

func TestUnchangedParentDoesNotKeepChainFresh(t *testing.T) {
	clock := base
	tr := newTestTracker(&clock)
	tr.Observe(conv("A", models.StatusActive, 0, -1, models.AgentOrchestrator))
	tr.Transfer(models.Transfer{FromConversationID: "A", ToConversationID: "B", At: base.Add(20 * time.Second)})

	// the history feed keeps returning A unchanged while B never reports back
	var merged []Event
	var mergedAt time.Time
	for i := 1; i <= 12; i++ {
		clock = base.Add(time.Duration(i) * 10 * time.Minute)
		tr.Observe(conv("A", models.StatusCompleted, 0, 20, models.AgentOrchestrator))
		if m := mergedEvents(tr.Sweep(clock)); len(m) > 0 {
			merged = append(merged, m...)
			mergedAt = clock
		}
	}
	if len(merged) != 1 || !merged[0].Merged.Partial {
		t.Fatalf("expected one partial merge, got %d", len(merged))
	}
	if mergedAt.After(base.Add(40 * time.Minute)) {
		t.Fatalf("expected merge shortly after the stale window, merged at %s", mergedAt.Sub(base))
	}
}

func TestRegistryActivityFollowsChanges(t *testing.T) {
	r := NewRegistry()
	c := conv("A", models.StatusActive, 0, -1, models.AgentSupport)
	r.Upsert(c, base)
	r.Upsert(c, base.Add(time.Hour))
	if last, _ := r.lastActive("A"); !last.Equal(base) {
		t.Fatalf("expected unchanged upsert to keep activity at %s, got %s", base, last)
	}
	c.MessageCount = 4
	r.Upsert(c, base.Add(2*time.Hour))
	if last, _ := r.lastActive("A"); !last.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("expected changed upsert to refresh activity, got %s", last)
	}
	end := base.Add(3 * time.Hour)
	c.EndTime = &end
	r.Upsert(c, end)
	same := end
	c.EndTime = &same
	r.Upsert(c, base.Add(4*time.Hour))
	if last, _ := r.lastActive("A"); !last.Equal(end) {
		t.Fatalf("expected equal end time to count as unchanged, got %s", last)
	}
}

func TestActiveInDiscoveryOrder(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"m", "c", "x", "a", "q"} {
		r.Upsert(conv(id, models.StatusActive, 0, -1, models.AgentSupport), base)
	}
	r.Upsert(conv("x", models.StatusCompleted, 0, 30, models.AgentSupport), base)
	r.Upsert(conv("c", models.StatusActive, 5, -1, models.AgentSupport), base)

	var got []string
	for _, c := range r.Active() {
		got = append(got, c.ID)
	}
	if want := "m c a q"; fmt.Sprint(got) != "["+want+"]" {
		t.Fatalf("expected [%s], got %v", want, got)
	}
}

func TestSweepReleasesMergedChains(t *testing.T) {
	clock := base
	tr := newTestTracker(&clock)
	const chains = 1000
	for i := 0; i < chains; i++ {
		root, child := fmt.Sprintf("R%d", i), fmt.Sprintf("C%d", i)
		tr.Observe(conv(root, models.StatusActive, 0, -1, models.AgentOrchestrator))
		tr.Transfer(models.Transfer{FromConversationID: root, ToConversationID: child, At: base.Add(10 * time.Second)})
		if len(mergedEvents(tr.Observe(conv(child, models.StatusCompleted, 10, 60, models.AgentSupport)).Events)) != 1 {
			t.Fatalf("expected chain %d to merge", i)
		}
	}

	tr.Sweep(base.Add(31 * time.Minute))
	if _, ok := tr.Merged("C7"); ok {
		t.Fatalf("expected merged payload to be released after the stale window")
	}
	view, err := tr.Journey("C7")
	if !errors.Is(err, ErrMergeArchived) || view.RootID != "R7" {
		t.Fatalf("expected archived journey rooted at R7, got %+v %v", view, err)
	}
	if obs := tr.Observe(conv("C7", models.StatusCompleted, 10, 60, models.AgentSupport)); !obs.AlreadyMerged {
		t.Fatalf("expected marker to keep the merge idempotent")
	}
	tr.mu.Lock()
	held := 0
	for _, m := range tr.mergedByRoot {
		if m.call != nil {
			held++
		}
	}
	tr.mu.Unlock()
	if held != 0 {
		t.Fatalf("expected no merged payloads held, got %d", held)
	}

	tr.Sweep(base.Add(48 * time.Hour))
	tr.mu.Lock()
	roots, members := len(tr.mergedByRoot), len(tr.mergedRootOf)
	tr.mu.Unlock()
	if roots != 0 || members != 0 {
		t.Fatalf("expected merge markers pruned, got %d roots and %d members", roots, members)
	}
	if _, err := tr.Journey("C7"); !errors.Is(err, ErrUnknownConversation) {
		t.Fatalf("expected unknown after pruning, got %v", err)
	}
}

func TestSweepKeepsStandaloneActive(t *testing.T) {
	clock := base
	tr := newTestTracker(&clock)
	tr.Observe(conv("C", models.StatusActive, 0, -1, models.AgentSupport))
	tr.Observe(conv("D", models.StatusCompleted, 0, 10, models.AgentSupport))
	tr.Sweep(clock.Add(time.Hour))
	if _, ok := tr.Get("C"); !ok {
		t.Fatalf("expected active conversation to stay")
	}
	if _, ok := tr.Get("D"); ok {
		t.Fatalf("expected stale terminal conversation to be evicted")
	}
}

func TestAppendTranscript(t *testing.T) {
	clock := base
	tr := newTestTracker(&clock)
	tr.Observe(conv("T", models.StatusActive, 0, -1, models.AgentSupport, seg(models.SpeakerAgent, "hello", 5)))

	events, err := tr.AppendTranscript("T", []models.TranscriptSegment{
		seg(models.SpeakerCustomer, "too early", 2),
		seg(models.SpeakerCustomer, "hi", 7),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(events) != 1 || events[0].Kind != EventTranscriptUpdated {
		t.Fatalf("expected transcript event, got %+v", events)
	}
	got := events[0].Conversation.Transcript
	if len(got.Segments) != 2 || got.FullText != "agent: hello\ncustomer: hi" {
		t.Fatalf("unexpected transcript %+v", got)
	}

	if _, err := tr.AppendTranscript("missing", nil); !errors.Is(err, ErrUnknownConversation) {
		t.Fatalf("expected ErrUnknownConversation, got %v", err)
	}
	tr.Observe(conv("T", models.StatusCompleted, 0, 30, models.AgentSupport))
	if _, err := tr.AppendTranscript("T", []models.TranscriptSegment{seg(models.SpeakerAgent, "bye", 20)}); !errors.Is(err, ErrConversationClosed) {
		t.Fatalf("expected ErrConversationClosed, got %v", err)
	}
}

func TestMissingMemberDoesNotBlockMerge(t *testing.T) {
	clock := base
	tr := newTestTracker(&clock)
	tr.Observe(conv("A", models.StatusActive, 0, -1, models.AgentOrchestrator))
	tr.Transfer(models.Transfer{FromConversationID: "A", ToConversationID: "B", At: base.Add(10 * time.Second)})
	tr.Transfer(models.Transfer{FromConversationID: "B", ToConversationID: "C", At: base.Add(20 * time.Second)})
	tr.mu.Lock()
	tr.registry.Delete("B")
	tr.mu.Unlock()

	merged := mergedEvents(tr.Observe(conv("C", models.StatusCompleted, 20, 40, models.AgentSupport)).Events)
	if len(merged) != 1 {
		t.Fatalf("expected merge without B")
	}
	if ids := merged[0].Merged.MemberIDs; len(ids) != 2 || ids[0] != "A" || ids[1] != "C" {
		t.Fatalf("expected members [A C], got %v", ids)
	}
}

func TestResetClearsEverything(t *testing.T) {
	clock := base
	tr := newTestTracker(&clock)
	tr.Observe(conv("A", models.StatusActive, 0, -1, models.AgentOrchestrator))
	tr.Transfer(models.Transfer{FromConversationID: "A", ToConversationID: "B"})
	tr.Reset()
	if len(tr.Active()) != 0 {
		t.Fatalf("expected empty registry")
	}
	if _, err := tr.Journey("A"); !errors.Is(err, ErrUnknownConversation) {
		t.Fatalf("expected unknown after reset, got %v", err)
	}
}
