package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/callscope/backend/internal/metrics"
	"github.com/callscope/backend/internal/models"
)

// ResultHandler receives each finished analysis on the queue's worker goroutine.
type ResultHandler func(ctx context.Context, call models.CallRecord, a models.Analytics)

type analyzeFunc func(ctx context.Context, call models.CallRecord) models.Analytics

// Queue runs analyses one at a time with at least MinInterval between the
// start of consecutive requests. A call already waiting is not queued twice.
type Queue struct {
	MinInterval time.Duration
	OnResult    ResultHandler
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger

	analyze analyzeFunc

	mu        sync.Mutex
	pending   []models.CallRecord
	queued    map[string]struct{}
	wake      chan struct{}
	lastReqAt time.Time
}

func NewQueue(d *Dispatcher, minInterval time.Duration, onResult ResultHandler, logger zerolog.Logger) *Queue {
	q := &Queue{
		MinInterval: minInterval,
		OnResult:    onResult,
		Logger:      logger,
		Metrics:     d.Metrics,
		analyze:     d.Analyze,
		queued:      map[string]struct{}{},
		wake:        make(chan struct{}, 1),
	}
	return q
}

// Enqueue adds call unless it is already waiting. It never blocks.
func (q *Queue) Enqueue(call models.CallRecord) bool {
	q.mu.Lock()
	if _, ok := q.queued[call.ID]; ok {
		q.mu.Unlock()
		return false
	}
	q.queued[call.ID] = struct{}{}
	q.pending = append(q.pending, call)
	depth := len(q.pending)
	q.mu.Unlock()

	q.Metrics.AnalysisQueueDepth(depth)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) pop() (models.CallRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return models.CallRecord{}, false
	}
	call := q.pending[0]
	q.pending = q.pending[1:]
	delete(q.queued, call.ID)
	q.Metrics.AnalysisQueueDepth(len(q.pending))
	return call, true
}

// Run processes the queue until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	for {
		call, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		if wait := time.Until(q.lastReqAt.Add(q.MinInterval)); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		q.lastReqAt = time.Now()

		a := q.analyze(ctx, call)
		q.Logger.Info().Str("call_id", call.ID).Str("source", a.Source).Int("pending", q.Len()).Msg("call analyzed")
		if q.OnResult != nil {
			q.OnResult(ctx, call, a)
		}
	}
}
