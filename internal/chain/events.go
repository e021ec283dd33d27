package chain

import (
	"time"

	"github.com/callscope/backend/internal/models"
)

type EventKind int

const (
	EventStarted EventKind = iota + 1
	EventEnded
	EventTransferred
	EventTranscriptUpdated
	EventMerged
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventEnded:
		return "ended"
	case EventTransferred:
		return "transferred"
	case EventTranscriptUpdated:
		return "transcript_updated"
	case EventMerged:
		return "merged"
	default:
		return "unknown"
	}
}

// Event is one state change of the tracked conversations. Conversation is set
// for every kind except merged; transferred events also carry Parent and Transfer.
type Event struct {
	Kind         EventKind
	Conversation *models.Conversation
	Parent       *models.Conversation
	Transfer     *models.Transfer
	Merged       *models.MergedCall
	At           time.Time
}

func conversationEvent(kind EventKind, c models.Conversation, at time.Time) Event {
	return Event{Kind: kind, Conversation: &c, At: at}
}

// StartedEvent and EndedEvent are built by the poller, which owns the
// first-seen bookkeeping.
func StartedEvent(c models.Conversation, at time.Time) Event {
	return conversationEvent(EventStarted, c, at)
}

func EndedEvent(c models.Conversation, at time.Time) Event {
	return conversationEvent(EventEnded, c, at)
}
