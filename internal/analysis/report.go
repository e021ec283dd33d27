package analysis

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/callscope/backend/internal/models"
)

// report is the JSON document the generative providers are asked to return.
// Scores use a 1-5 scale and are mapped to 0-100 on conversion.
type report struct {
	Summary              string          `json:"summary" jsonschema:"required"`
	Topic                string          `json:"topic" jsonschema:"required"`
	Category             string          `json:"category" jsonschema:"required"`
	KeyPoints            []string        `json:"keyPoints" jsonschema:"required"`
	CustomerSatisfaction float64         `json:"customerSatisfaction" jsonschema:"required"`
	Sentiment            string          `json:"sentiment" jsonschema:"required,enum=positive,enum=neutral,enum=negative"`
	SentimentScore       float64         `json:"sentimentScore" jsonschema:"required"`
	SentimentTimeline    []timelinePoint `json:"sentimentTimeline" jsonschema:"required"`
	Emotions             []emotion       `json:"emotions" jsonschema:"required"`
	AgentScore           float64         `json:"agentScore" jsonschema:"required"`
	Empathy              float64         `json:"empathy" jsonschema:"required"`
	Clarity              float64         `json:"clarity" jsonschema:"required"`
	Resolution           float64         `json:"resolution" jsonschema:"required"`
	Professionalism      float64         `json:"professionalism" jsonschema:"required"`
	Strengths            []string        `json:"strengths" jsonschema:"required"`
	Improvements         []string        `json:"improvements" jsonschema:"required"`
	Recommendations      []string        `json:"recommendations" jsonschema:"required"`
	RiskLevel            string          `json:"riskLevel" jsonschema:"required,enum=low,enum=medium,enum=high"`
	Resolved             bool            `json:"resolved" jsonschema:"required"`
}

type timelinePoint struct {
	Time  float64 `json:"time" jsonschema:"required"`
	Score float64 `json:"score" jsonschema:"required"`
	Label string  `json:"label" jsonschema:"required"`
}

type emotion struct {
	Emotion   string  `json:"emotion" jsonschema:"required"`
	Intensity float64 `json:"intensity" jsonschema:"required"`
	Timestamp float64 `json:"timestamp" jsonschema:"required"`
	Speaker   string  `json:"speaker" jsonschema:"required"`
}

// decodeReport accepts a bare JSON object or one wrapped in prose or code
// fences, taking the span between the first '{' and the last '}'.
func decodeReport(text string) (report, error) {
	var r report
	s := strings.TrimSpace(text)
	if s == "" {
		return r, fmt.Errorf("%w: %v", ErrMalformedResponse, io.ErrUnexpectedEOF)
	}
	if err := json.Unmarshal([]byte(s), &r); err == nil {
		return r, nil
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end <= start {
		return r, fmt.Errorf("%w: no JSON object in output (len=%d)", ErrMalformedResponse, len(s))
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &r); err != nil {
		return r, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return r, nil
}

func orFloat(v, def float64) float64 {
	if v == 0 || math.IsNaN(v) {
		return def
	}
	return v
}

func scale100(v float64) int {
	return clampScore(int(math.Round(orFloat(v, 4.0) * 20)))
}

func toSentiment(v string) models.Sentiment {
	switch models.Sentiment(strings.ToLower(strings.TrimSpace(v))) {
	case models.SentimentPositive:
		return models.SentimentPositive
	case models.SentimentNegative:
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}

func toSpeaker(v string) models.Speaker {
	if strings.EqualFold(strings.TrimSpace(v), string(models.SpeakerAgent)) {
		return models.SpeakerAgent
	}
	return models.SpeakerCustomer
}

// toAnalytics maps a provider report onto the internal shape, filling the
// gaps a model may leave.
func (r report) toAnalytics(call models.CallRecord) models.Analytics {
	overall := toSentiment(r.Sentiment)
	breakdown := models.SentimentBreakdown{Positive: 0.2, Negative: 0.1, Neutral: 0.7}
	switch overall {
	case models.SentimentPositive:
		breakdown.Positive = 0.7
	case models.SentimentNegative:
		breakdown.Negative = 0.7
	}

	timeline := make([]models.SentimentPoint, 0, len(r.SentimentTimeline))
	for _, p := range r.SentimentTimeline {
		timeline = append(timeline, models.SentimentPoint{Time: p.Time, Score: p.Score, Label: toSentiment(p.Label)})
	}
	emotions := make([]models.Emotion, 0, len(r.Emotions))
	for _, e := range r.Emotions {
		emotions = append(emotions, models.Emotion{Emotion: e.Emotion, Intensity: e.Intensity, Timestamp: e.Timestamp, Speaker: toSpeaker(e.Speaker)})
	}

	topic := strings.TrimSpace(r.Topic)
	if topic == "" {
		topic = strings.TrimSpace(r.Category)
	}
	if topic == "" {
		topic = "General Support"
	}

	actions := make([]models.ActionItem, 0, len(r.Recommendations))
	for i, rec := range r.Recommendations {
		actions = append(actions, models.ActionItem{
			ID:          fmt.Sprintf("action_%s_%d", call.ID, i+1),
			Description: rec,
			Priority:    "medium",
		})
	}

	var risks []models.RiskFactor
	switch strings.ToLower(r.RiskLevel) {
	case "high":
		risks = append(risks, models.RiskFactor{
			Type:           "churn",
			Severity:       "high",
			Description:    "Customer dissatisfaction detected",
			Recommendation: "Reach out to the customer proactively",
		})
	case "medium":
		if !r.Resolved {
			risks = append(risks, models.RiskFactor{
				Type:           "unresolved",
				Severity:       "medium",
				Description:    "The issue was not resolved during the call",
				Recommendation: "Schedule a follow-up",
			})
		}
	}

	summary := strings.TrimSpace(r.Summary)
	if summary == "" {
		summary = fmt.Sprintf("Call with %s lasted %d seconds.", call.CustomerName, int(call.DurationSeconds))
	}
	keyPoints := r.KeyPoints
	if len(keyPoints) == 0 {
		keyPoints = []string{"Customer was supported"}
	}
	strengths := r.Strengths
	if len(strengths) == 0 {
		strengths = []string{"Professional approach"}
	}

	return models.Analytics{
		CallID:    call.ID,
		Summary:   summary,
		KeyPoints: keyPoints,
		Sentiment: models.SentimentAnalysis{
			Overall:   overall,
			Score:     clampUnit(orFloat(r.SentimentScore, 0.7)),
			Timeline:  timeline,
			Breakdown: breakdown,
		},
		Emotions: emotions,
		Topics: []models.Topic{{
			Name:      topic,
			Relevance: 0.9,
			Sentiment: overall,
			Mentions:  1,
		}},
		ActionItems:          actions,
		CustomerSatisfaction: clampRange(orFloat(r.CustomerSatisfaction, 3.5), 1, 5),
		AgentPerformance: models.AgentPerformance{
			OverallScore:         scale100(r.AgentScore),
			EmpathyScore:         scale100(r.Empathy),
			ClarityScore:         scale100(r.Clarity),
			ResolutionScore:      scale100(r.Resolution),
			ProfessionalismScore: scale100(r.Professionalism),
			Strengths:            strengths,
			Improvements:         r.Improvements,
		},
		RiskFactors: risks,
	}
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func clampRange(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampUnit(v float64) float64 {
	return clampRange(v, -1, 1)
}
