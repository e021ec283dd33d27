package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/callscope/backend/internal/chain"
	"github.com/callscope/backend/internal/models"
	"github.com/callscope/backend/internal/stream"
)

type fakeStore struct {
	mu          sync.Mutex
	calls       map[string]models.CallRecord
	transcripts map[string]models.Transcript
	analytics   map[string]models.Analytics
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		calls:       map[string]models.CallRecord{},
		transcripts: map[string]models.Transcript{},
		analytics:   map[string]models.Analytics{},
	}
}

func (f *fakeStore) UpsertCall(ctx context.Context, call models.CallRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[call.ID] = call
	return nil
}

func (f *fakeStore) SaveTranscript(ctx context.Context, id string, tr models.Transcript) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts[id] = tr
	return nil
}

func (f *fakeStore) SaveAnalytics(ctx context.Context, a models.Analytics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analytics[a.CallID] = a
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []stream.Message
}

func (f *fakePublisher) Publish(m stream.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
}

type fakeQueue struct {
	ids []string
}

func (f *fakeQueue) Enqueue(call models.CallRecord) bool {
	f.ids = append(f.ids, call.ID)
	return true
}

func conv(id, parent string, part bool, status models.Status) models.Conversation {
	start := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	return models.Conversation{ID: id, ParentID: parent, PartOfHandoff: part, Status: status, StartTime: start, Transcript: models.NewTranscript(nil)}
}

func drain(p *Pipeline) {
	for {
		select {
		case ev := <-p.events:
			p.process(context.Background(), ev)
		default:
			return
		}
	}
}

func TestPipelineAnalyzesStandaloneAndMergedOnly(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	q := &fakeQueue{}
	p := NewPipeline(store, pub, q, zerolog.Nop())
	ctx := context.Background()

	solo := conv("solo", "", false, models.StatusCompleted)
	member := conv("child", "root", true, models.StatusCompleted)
	merged := models.MergedCall{ID: chain.MergedID("root"), RootConversationID: "root", MemberIDs: []string{"root", "child"}}

	p.Handle(ctx, chain.StartedEvent(solo, time.Now()))
	p.Handle(ctx, chain.EndedEvent(solo, time.Now()))
	p.Handle(ctx, chain.EndedEvent(member, time.Now()))
	p.Handle(ctx, chain.Event{Kind: chain.EventMerged, Merged: &merged, At: time.Now()})
	drain(p)

	if len(q.ids) != 2 || q.ids[0] != "solo" || q.ids[1] != "merged_root" {
		t.Fatalf("expected [solo merged_root] queued, got %v", q.ids)
	}
	if _, ok := store.calls["child"]; !ok {
		t.Fatalf("expected chain member persisted")
	}
	if c := store.calls["merged_root"]; !c.Merged || c.AgentID != models.MultiAgentID {
		t.Fatalf("expected merged record persisted, got %+v", c)
	}
	if len(pub.msgs) != 4 || pub.msgs[3].Type != "merged" || pub.msgs[3].CallID != "merged_root" {
		t.Fatalf("unexpected published messages %+v", pub.msgs)
	}
}

func TestPipelinePersistsTransferAndTranscript(t *testing.T) {
	store := newFakeStore()
	p := NewPipeline(store, nil, nil, zerolog.Nop())
	ctx := context.Background()

	parent := conv("a", "", true, models.StatusTransferred)
	child := conv("b", "a", true, models.StatusActive)
	p.Handle(ctx, chain.Event{Kind: chain.EventTransferred, Parent: &parent, Conversation: &child, Transfer: &models.Transfer{FromConversationID: "a", ToConversationID: "b"}})

	child.Transcript = models.NewTranscript([]models.TranscriptSegment{{Speaker: models.SpeakerAgent, Text: "hello"}})
	p.Handle(ctx, chain.Event{Kind: chain.EventTranscriptUpdated, Conversation: &child})
	drain(p)

	if store.calls["a"].Status != models.StatusTransferred || store.calls["b"].ParentConversationID != "a" {
		t.Fatalf("expected both legs persisted, got %+v", store.calls)
	}
	if store.transcripts["b"].FullText != "agent: hello" {
		t.Fatalf("expected transcript saved, got %+v", store.transcripts["b"])
	}
}

func TestPipelineOnAnalysis(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	p := NewPipeline(store, pub, nil, zerolog.Nop())

	call := models.CallFromConversation(conv("solo", "", false, models.StatusCompleted))
	p.OnAnalysis(context.Background(), call, models.Analytics{ID: "analytics_1", CallID: "solo", Source: "synthetic"})

	if store.analytics["solo"].ID != "analytics_1" {
		t.Fatalf("expected analytics saved")
	}
	if len(pub.msgs) != 1 || pub.msgs[0].Type != MessageAnalytics {
		t.Fatalf("expected analytics message, got %+v", pub.msgs)
	}
}
