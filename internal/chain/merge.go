package chain

import (
	"sort"
	"time"

	"github.com/callscope/backend/internal/models"
)

const mergedIDPrefix = "merged_"

// MergedID is the identity of the merged call built from the chain rooted at rootID.
func MergedID(rootID string) string {
	return mergedIDPrefix + rootID
}

type member struct {
	conv models.Conversation
	seq  uint64
}

// orderMembers sorts by start time, then by discovery order.
func orderMembers(ms []member) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if !a.conv.StartTime.Equal(b.conv.StartTime) {
			return a.conv.StartTime.Before(b.conv.StartTime)
		}
		return a.seq < b.seq
	})
}

func journeyStep(c models.Conversation) models.JourneyStep {
	step := models.JourneyStep{
		ConversationID:  c.ID,
		AgentID:         c.AgentID,
		AgentName:       c.AgentName,
		AgentType:       c.AgentType,
		StartTime:       c.StartTime,
		EndTime:         c.EndTime,
		DurationSeconds: c.DurationSeconds(),
		HandoffReason:   c.HandoffReason,
	}
	if step.AgentType == "" {
		step.AgentType = models.AgentSpecialist
	}
	if c.Analytics != nil {
		perf := c.Analytics.AgentPerformance
		step.Performance = &models.StepPerformance{
			Score:      perf.OverallScore,
			Highlights: nonNil(perf.Strengths),
			Issues:     nonNil(perf.Improvements),
		}
	}
	return step
}

// buildJourney expects ms already ordered.
func buildJourney(ms []member) []models.JourneyStep {
	steps := make([]models.JourneyStep, 0, len(ms))
	for _, m := range ms {
		steps = append(steps, journeyStep(m.conv))
	}
	return steps
}

// mergeChain synthesizes the merged record of an ordered, non-empty member list.
func mergeChain(rootID string, ms []member, mergedAt time.Time, partial bool) models.MergedCall {
	orderMembers(ms)

	var segments []models.TranscriptSegment
	ids := make([]string, 0, len(ms))
	var end *time.Time
	for _, m := range ms {
		ids = append(ids, m.conv.ID)
		segments = append(segments, m.conv.Transcript.Segments...)
		if m.conv.EndTime != nil && (end == nil || m.conv.EndTime.After(*end)) {
			t := *m.conv.EndTime
			end = &t
		}
	}

	first := ms[0].conv
	duration := 0.0
	if end != nil && end.After(first.StartTime) {
		duration = end.Sub(first.StartTime).Seconds()
	}

	return models.MergedCall{
		ID:                 MergedID(rootID),
		RootConversationID: rootID,
		MemberIDs:          ids,
		StartTime:          first.StartTime,
		EndTime:            end,
		DurationSeconds:    duration,
		PhoneNumber:        first.PhoneNumber,
		CustomerName:       first.CustomerName,
		Journey:            buildJourney(ms),
		Transcript:         models.NewTranscript(segments),
		MergedAt:           mergedAt,
		Partial:            partial,
	}
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
