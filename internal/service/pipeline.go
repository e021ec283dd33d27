package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/callscope/backend/internal/chain"
	"github.com/callscope/backend/internal/models"
	"github.com/callscope/backend/internal/stream"
)

// CallStore is the persistence the pipeline writes to.
type CallStore interface {
	UpsertCall(ctx context.Context, call models.CallRecord) error
	SaveTranscript(ctx context.Context, callID string, tr models.Transcript) error
	SaveAnalytics(ctx context.Context, a models.Analytics) error
}

type Publisher interface {
	Publish(msg stream.Message)
}

type Enqueuer interface {
	Enqueue(call models.CallRecord) bool
}

const (
	MessageAnalytics = "analytics"
	eventBuffer      = 1024
)

// Pipeline is the event sink of the poller. Handle only publishes and queues;
// persistence and analysis scheduling happen on the Run goroutine in event
// order.
type Pipeline struct {
	Store     CallStore
	Publisher Publisher
	Analysis  Enqueuer
	Logger    zerolog.Logger
	Timeout   time.Duration

	events chan chain.Event
}

func NewPipeline(store CallStore, pub Publisher, analysis Enqueuer, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		Store:     store,
		Publisher: pub,
		Analysis:  analysis,
		Logger:    logger,
		Timeout:   10 * time.Second,
		events:    make(chan chain.Event, eventBuffer),
	}
}

func (p *Pipeline) Handle(ctx context.Context, ev chain.Event) {
	if p.Publisher != nil {
		p.Publisher.Publish(toMessage(ev))
	}
	select {
	case p.events <- ev:
	default:
		p.Logger.Error().Str("kind", ev.Kind.String()).Str("call_id", eventCallID(ev)).Msg("pipeline buffer full, event not persisted")
	}
}

// Run drains queued events until ctx is done.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.events:
			p.process(ctx, ev)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, ev chain.Event) {
	log := p.Logger.With().Str("kind", ev.Kind.String()).Str("call_id", eventCallID(ev)).Logger()

	switch ev.Kind {
	case chain.EventStarted, chain.EventEnded:
		call := models.CallFromConversation(*ev.Conversation)
		p.persist(ctx, log, call)
		if ev.Kind == chain.EventEnded && standalone(*ev.Conversation) {
			p.enqueue(log, call)
		}
	case chain.EventTransferred:
		if ev.Parent != nil {
			p.persist(ctx, log, models.CallFromConversation(*ev.Parent))
		}
		p.persist(ctx, log, models.CallFromConversation(*ev.Conversation))
	case chain.EventTranscriptUpdated:
		if p.Store == nil {
			return
		}
		sctx, cancel := context.WithTimeout(ctx, p.Timeout)
		defer cancel()
		if err := p.Store.SaveTranscript(sctx, ev.Conversation.ID, ev.Conversation.Transcript); err != nil {
			log.Warn().Err(err).Msg("save transcript failed")
		}
	case chain.EventMerged:
		call := models.CallFromMerged(*ev.Merged)
		p.persist(ctx, log, call)
		p.enqueue(log, call)
	}
}

// standalone reports whether a conversation is analyzed on its own. Chain
// members are analyzed through their merged call.
func standalone(c models.Conversation) bool {
	return !c.PartOfHandoff && c.ParentID == ""
}

func (p *Pipeline) persist(ctx context.Context, log zerolog.Logger, call models.CallRecord) {
	if p.Store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	if err := p.Store.UpsertCall(sctx, call); err != nil {
		log.Warn().Err(err).Msg("persist call failed")
	}
}

func (p *Pipeline) enqueue(log zerolog.Logger, call models.CallRecord) {
	if p.Analysis == nil {
		return
	}
	if !p.Analysis.Enqueue(call) {
		log.Debug().Msg("analysis already pending")
	}
}

// OnAnalysis is the analysis queue's result handler.
func (p *Pipeline) OnAnalysis(ctx context.Context, call models.CallRecord, a models.Analytics) {
	if p.Store != nil {
		sctx, cancel := context.WithTimeout(ctx, p.Timeout)
		defer cancel()
		if err := p.Store.SaveAnalytics(sctx, a); err != nil {
			p.Logger.Warn().Err(err).Str("call_id", call.ID).Msg("save analytics failed")
		}
	}
	if p.Publisher != nil {
		p.Publisher.Publish(stream.Message{Type: MessageAnalytics, CallID: call.ID, Timestamp: a.AnalyzedAt, Data: a})
	}
}

func eventCallID(ev chain.Event) string {
	switch {
	case ev.Merged != nil:
		return ev.Merged.ID
	case ev.Conversation != nil:
		return ev.Conversation.ID
	default:
		return ""
	}
}

func toMessage(ev chain.Event) stream.Message {
	msg := stream.Message{Type: ev.Kind.String(), CallID: eventCallID(ev), Timestamp: ev.At.UTC()}
	switch {
	case ev.Kind == chain.EventTransferred:
		msg.Data = map[string]any{"parent": ev.Parent, "conversation": ev.Conversation, "transfer": ev.Transfer}
	case ev.Merged != nil:
		msg.Data = ev.Merged
	default:
		msg.Data = ev.Conversation
	}
	return msg
}
