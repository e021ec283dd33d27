package models

import (
	"strings"
	"time"
)

type Status string

const (
	StatusActive      Status = "active"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusTransferred Status = "transferred"
)

// Terminal reports whether s is one of the end states of the conversation lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTransferred:
		return true
	default:
		return false
	}
}

type AgentType string

const (
	AgentOrchestrator AgentType = "orchestrator"
	AgentSpecialist   AgentType = "specialist"
	AgentSupport      AgentType = "support"
	AgentSales        AgentType = "sales"
	AgentTechnical    AgentType = "technical"
)

type Speaker string

const (
	SpeakerAgent    Speaker = "agent"
	SpeakerCustomer Speaker = "customer"
)

type TranscriptSegment struct {
	Speaker     Speaker `json:"speaker"`
	Text        string  `json:"text"`
	StartOffset float64 `json:"start_offset"`
	EndOffset   float64 `json:"end_offset"`
	Confidence  float64 `json:"confidence"`
}

type Transcript struct {
	Segments []TranscriptSegment `json:"segments"`
	FullText string              `json:"full_text"`
}

// RenderFullText joins segments as "speaker: text" lines.
func RenderFullText(segments []TranscriptSegment) string {
	lines := make([]string, 0, len(segments))
	for _, s := range segments {
		lines = append(lines, string(s.Speaker)+": "+s.Text)
	}
	return strings.Join(lines, "\n")
}

// NewTranscript builds a transcript whose full text is derived from segments.
func NewTranscript(segments []TranscriptSegment) Transcript {
	if segments == nil {
		segments = []TranscriptSegment{}
	}
	return Transcript{Segments: segments, FullText: RenderFullText(segments)}
}

// Conversation is one agent's leg of a customer interaction.
type Conversation struct {
	ID            string     `json:"id"`
	ParentID      string     `json:"parent_id,omitempty"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Status        Status     `json:"status"`
	AgentID       string     `json:"agent_id"`
	AgentName     string     `json:"agent_name"`
	AgentType     AgentType  `json:"agent_type"`
	HandoffReason string     `json:"handoff_reason,omitempty"`
	HandoffAt     *time.Time `json:"handoff_at,omitempty"`
	PhoneNumber   string     `json:"phone_number"`
	CustomerName  string     `json:"customer_name"`
	MessageCount  int        `json:"message_count"`
	Transcript    Transcript `json:"transcript"`
	AudioURL      string     `json:"audio_url,omitempty"`
	Analytics     *Analytics `json:"analytics,omitempty"`
	PartOfHandoff bool       `json:"part_of_handoff"`
}

// DurationSeconds is EndTime - StartTime, or 0 while the end is unknown.
func (c Conversation) DurationSeconds() float64 {
	if c.EndTime == nil || c.EndTime.Before(c.StartTime) {
		return 0
	}
	return c.EndTime.Sub(c.StartTime).Seconds()
}

// Transfer is a handoff from one conversation into a new one.
type Transfer struct {
	FromConversationID string    `json:"from_conversation_id" validate:"required"`
	ToConversationID   string    `json:"to_conversation_id" validate:"required,nefield=FromConversationID"`
	Reason             string    `json:"reason"`
	ToAgentID          string    `json:"to_agent_id"`
	ToAgentName        string    `json:"to_agent_name"`
	ToAgentType        AgentType `json:"to_agent_type"`
	At                 time.Time `json:"at"`
}

type StepPerformance struct {
	Score      int      `json:"score"`
	Highlights []string `json:"highlights"`
	Issues     []string `json:"issues"`
}

type JourneyStep struct {
	ConversationID  string           `json:"conversation_id"`
	AgentID         string           `json:"agent_id"`
	AgentName       string           `json:"agent_name"`
	AgentType       AgentType        `json:"agent_type"`
	StartTime       time.Time        `json:"start_time"`
	EndTime         *time.Time       `json:"end_time,omitempty"`
	DurationSeconds float64          `json:"duration_seconds"`
	HandoffReason   string           `json:"handoff_reason,omitempty"`
	Performance     *StepPerformance `json:"performance,omitempty"`
}

// MergedCall is the synthesized record of a fully terminal handoff chain.
type MergedCall struct {
	ID                 string        `json:"id"`
	RootConversationID string        `json:"root_conversation_id"`
	MemberIDs          []string      `json:"member_ids"`
	StartTime          time.Time     `json:"start_time"`
	EndTime            *time.Time    `json:"end_time,omitempty"`
	DurationSeconds    float64       `json:"duration_seconds"`
	PhoneNumber        string        `json:"phone_number"`
	CustomerName       string        `json:"customer_name"`
	Journey            []JourneyStep `json:"call_journey"`
	Transcript         Transcript    `json:"transcript"`
	MergedAt           time.Time     `json:"merged_at"`
	Partial            bool          `json:"partial"`
}

// CallRecord is the shape handed to analysis and persistence. It is built
// either from a single conversation or from a merged chain.
type CallRecord struct {
	ID                   string        `json:"id"`
	ConversationID       string        `json:"conversation_id"`
	ParentConversationID string        `json:"parent_conversation_id,omitempty"`
	StartTime            time.Time     `json:"start_time"`
	EndTime              *time.Time    `json:"end_time,omitempty"`
	DurationSeconds      float64       `json:"duration_seconds"`
	Status               Status        `json:"status"`
	PhoneNumber          string        `json:"phone_number"`
	CustomerName         string        `json:"customer_name"`
	AgentID              string        `json:"agent_id"`
	AgentName            string        `json:"agent_name"`
	AgentType            AgentType     `json:"agent_type"`
	HandoffReason        string        `json:"handoff_reason,omitempty"`
	AudioURL             string        `json:"audio_url,omitempty"`
	Transcript           Transcript    `json:"transcript"`
	Journey              []JourneyStep `json:"call_journey,omitempty"`
	PartOfHandoff        bool          `json:"part_of_handoff"`
	Merged               bool          `json:"merged"`
}

func CallFromConversation(c Conversation) CallRecord {
	return CallRecord{
		ID:                   c.ID,
		ConversationID:       c.ID,
		ParentConversationID: c.ParentID,
		StartTime:            c.StartTime,
		EndTime:              c.EndTime,
		DurationSeconds:      c.DurationSeconds(),
		Status:               c.Status,
		PhoneNumber:          c.PhoneNumber,
		CustomerName:         c.CustomerName,
		AgentID:              c.AgentID,
		AgentName:            c.AgentName,
		AgentType:            c.AgentType,
		HandoffReason:        c.HandoffReason,
		AudioURL:             c.AudioURL,
		Transcript:           c.Transcript,
		PartOfHandoff:        c.PartOfHandoff,
	}
}

const (
	MultiAgentID   = "multi-agent"
	MultiAgentName = "Multi-Agent Conversation"
)

func CallFromMerged(m MergedCall) CallRecord {
	return CallRecord{
		ID:              m.ID,
		ConversationID:  m.RootConversationID,
		StartTime:       m.StartTime,
		EndTime:         m.EndTime,
		DurationSeconds: m.DurationSeconds,
		Status:          StatusCompleted,
		PhoneNumber:     m.PhoneNumber,
		CustomerName:    m.CustomerName,
		AgentID:         MultiAgentID,
		AgentName:       MultiAgentName,
		AgentType:       AgentOrchestrator,
		Transcript:      m.Transcript,
		Journey:         m.Journey,
		PartOfHandoff:   true,
		Merged:          true,
	}
}
