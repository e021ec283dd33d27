package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/callscope/backend/internal/chain"
	"github.com/callscope/backend/internal/convai"
	"github.com/callscope/backend/internal/metrics"
	"github.com/callscope/backend/internal/models"
)

var ErrDisconnected = errors.New("poller is disconnected")

type Config struct {
	Limit          int
	PreloadLimit   int
	InitialDelay   time.Duration
	MinDelay       time.Duration
	MaxDelay       time.Duration
	ErrorThreshold int
	JitterMax      time.Duration
	Jitter         func(max time.Duration) time.Duration
}

func DefaultConfig() Config {
	return Config{
		Limit:          10,
		PreloadLimit:   30,
		InitialDelay:   10 * time.Second,
		MinDelay:       10 * time.Second,
		MaxDelay:       60 * time.Second,
		ErrorThreshold: 5,
		JitterMax:      5 * time.Second,
	}
}

// Source is the conversation history collaborator.
type Source interface {
	ListConversations(ctx context.Context, limit int) ([]models.Conversation, error)
	GetTranscript(ctx context.Context, conversationID string) (models.Transcript, error)
}

// Sink receives events in emission order. Handle runs while the poller holds
// its lock and must not call back into the poller.
type Sink interface {
	Handle(ctx context.Context, ev chain.Event)
}

type SinkFunc func(ctx context.Context, ev chain.Event)

func (f SinkFunc) Handle(ctx context.Context, ev chain.Event) { f(ctx, ev) }

// Poller emulates a live feed over the paginated history endpoint. Pushed
// messages (Ingest, Transfer, AppendTranscript) go through the same
// first-seen bookkeeping, so a conversation is announced once whichever way
// it arrives.
type Poller struct {
	Source  Source
	Tracker *chain.Tracker
	Sink    Sink
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	Config  Config
	Now     func() time.Time

	mu           sync.Mutex
	backoff      *Backoff
	lastSeen     map[string]struct{}
	timer        *time.Timer
	ctx          context.Context
	cancel       context.CancelFunc
	gen          uint64
	running      bool
	disconnected bool
	lastPoll     time.Time
	lastErr      error
}

func New(cfg Config, source Source, tracker *chain.Tracker, sink Sink, logger zerolog.Logger) *Poller {
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.PreloadLimit <= 0 {
		cfg.PreloadLimit = 30
	}
	return &Poller{
		Source:   source,
		Tracker:  tracker,
		Sink:     sink,
		Logger:   logger,
		Config:   cfg,
		Now:      time.Now,
		backoff:  NewBackoff(cfg),
		lastSeen: map[string]struct{}{},
	}
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// Preload marks the most recent history as seen without emitting events, so
// the first poll only announces what is new. Active items are tracked.
func (p *Poller) Preload(ctx context.Context) ([]models.Conversation, error) {
	convs, err := p.Source.ListConversations(ctx, p.Config.PreloadLimit)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range convs {
		p.lastSeen[c.ID] = struct{}{}
		if c.Status == models.StatusActive {
			p.Tracker.Observe(c)
		}
	}
	p.Logger.Info().Int("count", len(convs)).Msg("conversation history preloaded")
	return convs, nil
}

// Start schedules the first poll after the initial delay. Calling Start on a
// running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.disconnected = false
	p.gen++
	p.scheduleLocked(p.backoff.Delay())
	p.Logger.Info().Dur("delay", p.backoff.Delay()).Int("limit", p.Config.Limit).Msg("poller started")
}

func (p *Poller) scheduleLocked(d time.Duration) {
	gen := p.gen
	p.timer = time.AfterFunc(d, func() { p.tick(gen) })
}

func (p *Poller) tick(gen uint64) {
	if !p.pollOnce(gen) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running && p.gen == gen {
		p.scheduleLocked(p.backoff.Delay())
	}
}

// pollOnce runs one fetch-and-apply cycle. Network calls happen without the
// lock; state is re-checked after each of them. It reports false when the
// poller was stopped meanwhile.
func (p *Poller) pollOnce(gen uint64) bool {
	p.mu.Lock()
	if !p.running || p.gen != gen {
		p.mu.Unlock()
		return false
	}
	ctx := p.ctx
	p.mu.Unlock()

	convs, err := p.Source.ListConversations(ctx, p.Config.Limit)

	p.mu.Lock()
	if !p.running || p.gen != gen {
		p.mu.Unlock()
		return false
	}
	p.lastPoll = p.now()
	if err != nil {
		p.failLocked(err)
		p.mu.Unlock()
		return true
	}
	p.lastErr = nil
	next := p.backoff.Success()
	p.Metrics.Poll(metrics.PollOK, next)
	fetch := p.pendingTranscriptsLocked(convs)
	p.mu.Unlock()

	transcripts := p.fetchTranscripts(ctx, fetch)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.gen != gen {
		return false
	}
	for _, c := range convs {
		if tr, ok := transcripts[c.ID]; ok && len(c.Transcript.Segments) == 0 {
			c.Transcript = tr
		}
		p.observeLocked(ctx, c)
	}
	for _, ev := range p.Tracker.Sweep(p.now()) {
		p.emitLocked(ctx, ev)
	}
	p.Metrics.ActiveConversations(len(p.Tracker.Active()))
	return true
}

func (p *Poller) failLocked(err error) {
	p.lastErr = err
	var next time.Duration
	result := metrics.PollError
	if convai.IsRateLimited(err) {
		var rl *convai.RateLimitError
		errors.As(err, &rl)
		next = p.backoff.RateLimited(rl.RetryAfter)
		result = metrics.PollRateLimited
	} else {
		next = p.backoff.Failure()
	}
	p.Metrics.Poll(result, next)
	p.Logger.Warn().Err(err).Str("result", result).Int("errors", p.backoff.Errors()).Dur("next_delay", next).Msg("history poll failed")
}

// willEndLocked reports whether observing c will emit an ended event.
func (p *Poller) willEndLocked(c models.Conversation) bool {
	if !c.Status.Terminal() {
		return false
	}
	if _, seen := p.lastSeen[c.ID]; !seen {
		return true
	}
	prev, ok := p.Tracker.Get(c.ID)
	return ok && prev.Status == models.StatusActive
}

func (p *Poller) pendingTranscriptsLocked(convs []models.Conversation) []string {
	var ids []string
	for _, c := range convs {
		if !p.willEndLocked(c) || len(c.Transcript.Segments) > 0 {
			continue
		}
		if prev, ok := p.Tracker.Get(c.ID); ok && len(prev.Transcript.Segments) > 0 {
			continue
		}
		ids = append(ids, c.ID)
	}
	return ids
}

func (p *Poller) fetchTranscripts(ctx context.Context, ids []string) map[string]models.Transcript {
	out := make(map[string]models.Transcript, len(ids))
	for _, id := range ids {
		tr, err := p.Source.GetTranscript(ctx, id)
		if err != nil {
			p.Logger.Warn().Err(err).Str("conversation_id", id).Msg("transcript fetch failed")
			continue
		}
		out[id] = tr
	}
	return out
}

func (p *Poller) observeLocked(ctx context.Context, c models.Conversation) {
	_, seen := p.lastSeen[c.ID]
	obs := p.Tracker.Observe(c)
	at := p.now()
	switch {
	case obs.AlreadyMerged:
	case !seen:
		p.lastSeen[c.ID] = struct{}{}
		if obs.Conversation.Status == models.StatusActive {
			p.emitLocked(ctx, chain.StartedEvent(obs.Conversation, at))
		} else {
			p.emitLocked(ctx, chain.EndedEvent(obs.Conversation, at))
		}
	case obs.WasActive && obs.Conversation.Status.Terminal():
		p.emitLocked(ctx, chain.EndedEvent(obs.Conversation, at))
	}
	for _, ev := range obs.Events {
		p.emitLocked(ctx, ev)
	}
}

func (p *Poller) emitLocked(ctx context.Context, ev chain.Event) {
	p.Metrics.Event(ev.Kind.String())
	if ev.Kind == chain.EventMerged && ev.Merged != nil {
		p.Metrics.Merge(ev.Merged.Partial)
	}
	if p.Sink != nil {
		p.Sink.Handle(ctx, ev)
	}
}

// Ingest applies a pushed conversation update as if it had been polled.
func (p *Poller) Ingest(ctx context.Context, c models.Conversation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disconnected {
		return ErrDisconnected
	}
	p.observeLocked(ctx, c)
	return nil
}

func (p *Poller) Transfer(ctx context.Context, tr models.Transfer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disconnected {
		return ErrDisconnected
	}
	events := p.Tracker.Transfer(tr)
	if len(events) == 0 {
		return nil
	}
	p.lastSeen[tr.FromConversationID] = struct{}{}
	p.lastSeen[tr.ToConversationID] = struct{}{}
	for _, ev := range events {
		p.emitLocked(ctx, ev)
	}
	return nil
}

func (p *Poller) AppendTranscript(ctx context.Context, id string, segments []models.TranscriptSegment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disconnected {
		return ErrDisconnected
	}
	events, err := p.Tracker.AppendTranscript(id, segments)
	if err != nil {
		return err
	}
	for _, ev := range events {
		p.emitLocked(ctx, ev)
	}
	return nil
}

// Disconnect stops polling and clears all in-memory state. Once it returns no
// tick applies changes or emits events.
func (p *Poller) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.disconnected = true
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.lastSeen = map[string]struct{}{}
	p.Tracker.Reset()
	p.backoff.Reset(p.Config.InitialDelay)
	p.Logger.Info().Msg("poller disconnected")
}

type Status struct {
	Running   bool          `json:"running"`
	Delay     time.Duration `json:"delay_ns"`
	Errors    int           `json:"consecutive_errors"`
	LastPoll  time.Time     `json:"last_poll"`
	LastError string        `json:"last_error,omitempty"`
	Seen      int           `json:"seen"`
}

func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Status{
		Running:  p.running,
		Delay:    p.backoff.Delay(),
		Errors:   p.backoff.Errors(),
		LastPoll: p.lastPoll,
		Seen:     len(p.lastSeen),
	}
	if p.lastErr != nil {
		s.LastError = p.lastErr.Error()
	}
	return s
}
