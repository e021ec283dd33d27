package convai

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/callscope/backend/internal/models"
)

type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindConversationStarted
	KindConversationEnded
	KindTranscriptUpdate
	KindAgentTransfer
)

func (k MessageKind) String() string {
	switch k {
	case KindConversationStarted:
		return "conversation_started"
	case KindConversationEnded:
		return "conversation_ended"
	case KindTranscriptUpdate:
		return "transcript_update"
	case KindAgentTransfer:
		return "agent_transfer"
	default:
		return "unknown"
	}
}

var messageKinds = map[string]MessageKind{
	"conversation_started": KindConversationStarted,
	"conversation.started": KindConversationStarted,
	"conversation_ended":   KindConversationEnded,
	"conversation.ended":   KindConversationEnded,
	"transcript_update":    KindTranscriptUpdate,
	"transcript.update":    KindTranscriptUpdate,
	"agent_transfer":       KindAgentTransfer,
	"agent.transfer":       KindAgentTransfer,
}

// Message is a pushed vendor event. Exactly one of the payload fields is set,
// matching Kind. Unknown messages carry only RawType.
type Message struct {
	Kind         MessageKind
	RawType      string
	Conversation *models.Conversation
	Segment      *SegmentUpdate
	Transfer     *models.Transfer
}

type SegmentUpdate struct {
	ConversationID string
	Segment        models.TranscriptSegment
}

type envelope struct {
	Type string `json:"type"`

	ConversationID string  `json:"conversation_id"`
	AgentID        string  `json:"agent_id"`
	AgentName      string  `json:"agent_name"`
	AgentType      string  `json:"agent_type"`
	PhoneNumber    string  `json:"phone_number"`
	CustomerName   string  `json:"customer_name"`
	StartTime      *int64  `json:"start_time_unix_secs"`
	EndTime        *int64  `json:"end_time_unix_secs"`
	Duration       *int64  `json:"call_duration_secs"`
	AudioURL       string  `json:"audio_url"`
	Status         string  `json:"status"`
	Speaker        string  `json:"speaker"`
	Text           string  `json:"text"`
	SegmentStart   float64 `json:"segment_start"`
	SegmentEnd     float64 `json:"segment_end"`
	Confidence     float64 `json:"confidence"`

	FromConversationID string `json:"from_conversation_id"`
	ToConversationID   string `json:"to_conversation_id"`
	ToAgentID          string `json:"to_agent_id"`
	ToAgentName        string `json:"to_agent_name"`
	ToAgentType        string `json:"to_agent_type"`
	TransferReason     string `json:"transfer_reason"`
	TimestampUnixSecs  *int64 `json:"timestamp_unix_secs"`
}

// ParseMessage decodes a pushed event. now stamps events that carry no time.
// A well-formed message of an unrecognized type is returned with KindUnknown
// and a nil error.
func ParseMessage(b []byte, agents *AgentDirectory, now time.Time) (Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	rawType := strings.ToLower(strings.TrimSpace(env.Type))
	msg := Message{Kind: messageKinds[rawType], RawType: env.Type}

	switch msg.Kind {
	case KindConversationStarted:
		conv := conversationFromEnvelope(env, agents, now)
		if conv.ID == "" {
			conv.ID = "conv_" + uuid.NewString()
		}
		conv.Status = models.StatusActive
		conv.EndTime = nil
		msg.Conversation = &conv
	case KindConversationEnded:
		if strings.TrimSpace(env.ConversationID) == "" {
			return Message{}, fmt.Errorf("%w: ended event without conversation_id", ErrMalformed)
		}
		conv := conversationFromEnvelope(env, agents, now)
		conv.Status = NormalizeStatus(env.Status)
		if !conv.Status.Terminal() {
			conv.Status = models.StatusCompleted
		}
		if conv.EndTime == nil {
			end := now
			if env.Duration != nil && env.StartTime != nil {
				end = conv.StartTime.Add(time.Duration(*env.Duration) * time.Second)
			}
			conv.EndTime = &end
		}
		msg.Conversation = &conv
	case KindTranscriptUpdate:
		if strings.TrimSpace(env.ConversationID) == "" || strings.TrimSpace(env.Text) == "" {
			return Message{}, fmt.Errorf("%w: transcript update needs conversation_id and text", ErrMalformed)
		}
		speaker := models.SpeakerCustomer
		if env.Speaker == string(models.SpeakerAgent) {
			speaker = models.SpeakerAgent
		}
		conf := env.Confidence
		if conf <= 0 {
			conf = 0.95
		}
		end := env.SegmentEnd
		if end < env.SegmentStart {
			end = env.SegmentStart
		}
		msg.Segment = &SegmentUpdate{
			ConversationID: env.ConversationID,
			Segment: models.TranscriptSegment{
				Speaker:     speaker,
				Text:        env.Text,
				StartOffset: env.SegmentStart,
				EndOffset:   end,
				Confidence:  conf,
			},
		}
	case KindAgentTransfer:
		if strings.TrimSpace(env.FromConversationID) == "" || strings.TrimSpace(env.ToConversationID) == "" {
			return Message{}, fmt.Errorf("%w: transfer needs both conversation ids", ErrMalformed)
		}
		at := now
		if env.TimestampUnixSecs != nil && *env.TimestampUnixSecs > 0 {
			at = time.Unix(*env.TimestampUnixSecs, 0).UTC()
		}
		toAgent := agents.Lookup(env.ToAgentID, env.ToAgentName)
		toType := toAgent.Type
		if env.ToAgentType != "" {
			toType = NormalizeAgentType(env.ToAgentType)
		}
		msg.Transfer = &models.Transfer{
			FromConversationID: env.FromConversationID,
			ToConversationID:   env.ToConversationID,
			Reason:             env.TransferReason,
			ToAgentID:          env.ToAgentID,
			ToAgentName:        toAgent.Name,
			ToAgentType:        toType,
			At:                 at,
		}
	}
	return msg, nil
}

func conversationFromEnvelope(env envelope, agents *AgentDirectory, now time.Time) models.Conversation {
	start := now
	if env.StartTime != nil && *env.StartTime > 0 {
		start = time.Unix(*env.StartTime, 0).UTC()
	}
	var end *time.Time
	if env.EndTime != nil && *env.EndTime > 0 {
		t := time.Unix(*env.EndTime, 0).UTC()
		end = &t
	}
	agentID := orDefault(env.AgentID, "unknown")
	agent := agents.Lookup(agentID, env.AgentName)
	agentType := agent.Type
	if env.AgentType != "" {
		agentType = NormalizeAgentType(env.AgentType)
	}
	return models.Conversation{
		ID:           strings.TrimSpace(env.ConversationID),
		StartTime:    start,
		EndTime:      end,
		AgentID:      agentID,
		AgentName:    agent.Name,
		AgentType:    agentType,
		PhoneNumber:  orDefault(env.PhoneNumber, defaultPhoneNumber),
		CustomerName: orDefault(env.CustomerName, defaultCustomerName),
		Transcript:   models.NewTranscript(nil),
		AudioURL:     strings.TrimSpace(env.AudioURL),
	}
}
