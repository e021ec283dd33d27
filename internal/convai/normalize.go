package convai

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/callscope/backend/internal/models"
)

const (
	defaultPhoneNumber  = "Unknown"
	defaultCustomerName = "Customer"
)

type AgentInfo struct {
	Name string           `json:"name"`
	Type models.AgentType `json:"type"`
}

// AgentDirectory maps vendor agent ids to display names and roles.
type AgentDirectory struct {
	agents map[string]AgentInfo
}

func NewAgentDirectory(agents map[string]AgentInfo) *AgentDirectory {
	d := &AgentDirectory{agents: map[string]AgentInfo{}}
	for id, a := range agents {
		d.agents[id] = a
	}
	return d
}

// LoadAgentDirectory reads a JSON object of {"agent_id": {"name": "...", "type": "..."}}.
// An empty path yields an empty directory.
func LoadAgentDirectory(path string) (*AgentDirectory, error) {
	if strings.TrimSpace(path) == "" {
		return NewAgentDirectory(nil), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var agents map[string]AgentInfo
	if err := json.Unmarshal(b, &agents); err != nil {
		return nil, fmt.Errorf("parse agents file: %w", err)
	}
	return NewAgentDirectory(agents), nil
}

// Lookup resolves an agent. vendorName is the name reported by the vendor, if any.
func (d *AgentDirectory) Lookup(agentID, vendorName string) AgentInfo {
	if d != nil {
		if a, ok := d.agents[agentID]; ok {
			if a.Name == "" {
				a.Name = agentID
			}
			if a.Type == "" {
				a.Type = DetermineAgentType(a.Name)
			}
			return a
		}
	}
	name := strings.TrimSpace(vendorName)
	if name == "" {
		name = agentID
	}
	return AgentInfo{Name: name, Type: DetermineAgentType(vendorName)}
}

// DetermineAgentType guesses a role from an agent's display name.
func DetermineAgentType(agentName string) models.AgentType {
	name := strings.ToLower(agentName)
	switch {
	case strings.Contains(name, "orchestrator"), strings.Contains(name, "orkestratör"), strings.Contains(name, "router"):
		return models.AgentOrchestrator
	case strings.Contains(name, "support"), strings.Contains(name, "destek"), strings.Contains(name, "müşteri"):
		return models.AgentSupport
	case strings.Contains(name, "sales"), strings.Contains(name, "satış"):
		return models.AgentSales
	case strings.Contains(name, "technical"), strings.Contains(name, "teknik"):
		return models.AgentTechnical
	default:
		return models.AgentSpecialist
	}
}

// NormalizeAgentType accepts a vendor-supplied type and falls back to specialist.
func NormalizeAgentType(v string) models.AgentType {
	switch t := models.AgentType(strings.ToLower(strings.TrimSpace(v))); t {
	case models.AgentOrchestrator, models.AgentSpecialist, models.AgentSupport, models.AgentSales, models.AgentTechnical:
		return t
	default:
		return models.AgentSpecialist
	}
}

// NormalizeStatus maps vendor statuses onto the lifecycle. Anything not
// recognized as terminal is treated as active.
func NormalizeStatus(v string) models.Status {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "done", "completed":
		return models.StatusCompleted
	case "failed":
		return models.StatusFailed
	case "transferred":
		return models.StatusTransferred
	default:
		return models.StatusActive
	}
}

// Normalize turns one history summary into a fully populated conversation.
func Normalize(s Summary, agents *AgentDirectory) (models.Conversation, error) {
	id := strings.TrimSpace(s.ConversationID)
	if id == "" {
		return models.Conversation{}, fmt.Errorf("%w: missing conversation_id", ErrMalformed)
	}
	if s.StartTimeUnixSecs <= 0 {
		return models.Conversation{}, fmt.Errorf("%w: missing start time for %s", ErrMalformed, id)
	}

	status := NormalizeStatus(s.Status)
	start := time.Unix(s.StartTimeUnixSecs, 0).UTC()

	var end *time.Time
	switch {
	case s.EndTimeUnixSecs > 0:
		t := time.Unix(s.EndTimeUnixSecs, 0).UTC()
		end = &t
	case status.Terminal() && s.CallDurationSecs >= 0:
		t := start.Add(time.Duration(s.CallDurationSecs) * time.Second)
		end = &t
	}
	if end != nil && end.Before(start) {
		return models.Conversation{}, fmt.Errorf("%w: end before start for %s", ErrMalformed, id)
	}

	agentID := strings.TrimSpace(s.AgentID)
	if agentID == "" {
		agentID = "unknown"
	}
	agent := agents.Lookup(agentID, s.AgentName)

	return models.Conversation{
		ID:           id,
		StartTime:    start,
		EndTime:      end,
		Status:       status,
		AgentID:      agentID,
		AgentName:    agent.Name,
		AgentType:    agent.Type,
		PhoneNumber:  orDefault(s.PhoneNumber, defaultPhoneNumber),
		CustomerName: orDefault(s.CustomerName, defaultCustomerName),
		MessageCount: s.MessageCount,
		Transcript:   models.NewTranscript(nil),
		AudioURL:     strings.TrimSpace(s.AudioURL),
	}, nil
}

func orDefault(v, def string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return v
}
