package convai

import (
	"errors"
	"testing"
	"time"

	"github.com/callscope/backend/internal/models"
)

var msgNow = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

func TestParseMessageStarted(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"conversation.started","agent_id":"a1","agent_name":"Support","end_time_unix_secs":1751364100}`), nil, msgNow)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c := msg.Conversation
	if msg.Kind != KindConversationStarted || c == nil {
		t.Fatalf("unexpected message %+v", msg)
	}
	if c.ID == "" || c.Status != models.StatusActive || c.EndTime != nil {
		t.Fatalf("expected generated id and open active conversation, got %+v", c)
	}
	if !c.StartTime.Equal(msgNow) || c.AgentType != models.AgentSupport {
		t.Fatalf("expected start stamped with now and support agent, got %+v", c)
	}
}

func TestParseMessageEnded(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"conversation_ended","conversation_id":"c1","start_time_unix_secs":1751364000,"call_duration_secs":60,"status":"running"}`), nil, msgNow)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c := msg.Conversation
	if c.Status != models.StatusCompleted {
		t.Fatalf("expected non-terminal status coerced to completed, got %s", c.Status)
	}
	if c.EndTime == nil || c.EndTime.Sub(c.StartTime) != time.Minute {
		t.Fatalf("expected end from duration, got %v", c.EndTime)
	}

	if _, err := ParseMessage([]byte(`{"type":"conversation_ended"}`), nil, msgNow); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed for missing id, got %v", err)
	}
}

func TestParseMessageTranscript(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"transcript_update","conversation_id":"c1","speaker":"agent","text":"hi","segment_start":4,"segment_end":2}`), nil, msgNow)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	seg := msg.Segment.Segment
	if msg.Segment.ConversationID != "c1" || seg.Speaker != models.SpeakerAgent {
		t.Fatalf("unexpected segment %+v", msg.Segment)
	}
	if seg.EndOffset != 4 || seg.Confidence != 0.95 {
		t.Fatalf("expected end clamped and default confidence, got %+v", seg)
	}

	if _, err := ParseMessage([]byte(`{"type":"transcript_update","conversation_id":"c1","text":"  "}`), nil, msgNow); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed for empty text, got %v", err)
	}
}

func TestParseMessageTransfer(t *testing.T) {
	agents := NewAgentDirectory(map[string]AgentInfo{"tech": {Name: "Tech Desk", Type: models.AgentTechnical}})
	msg, err := ParseMessage([]byte(`{"type":"agent.transfer","from_conversation_id":"a","to_conversation_id":"b","to_agent_id":"tech","transfer_reason":"router issue","timestamp_unix_secs":1751364000}`), agents, msgNow)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tr := msg.Transfer
	if tr.FromConversationID != "a" || tr.ToConversationID != "b" || tr.Reason != "router issue" {
		t.Fatalf("unexpected transfer %+v", tr)
	}
	if tr.ToAgentName != "Tech Desk" || tr.ToAgentType != models.AgentTechnical {
		t.Fatalf("expected agent from directory, got %+v", tr)
	}
	if !tr.At.Equal(time.Unix(1751364000, 0)) {
		t.Fatalf("expected vendor timestamp, got %s", tr.At)
	}

	if _, err := ParseMessage([]byte(`{"type":"agent_transfer","from_conversation_id":"a"}`), agents, msgNow); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed for missing target, got %v", err)
	}
}

func TestParseMessageUnknownAndGarbage(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"ping"}`), nil, msgNow)
	if err != nil || msg.Kind != KindUnknown || msg.RawType != "ping" {
		t.Fatalf("expected unknown kind without error, got %+v %v", msg, err)
	}
	if _, err := ParseMessage([]byte(`{`), nil, msgNow); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed for bad json, got %v", err)
	}
}
