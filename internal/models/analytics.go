package models

import "time"

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

type SentimentPoint struct {
	Time  float64   `json:"time"`
	Score float64   `json:"score"`
	Label Sentiment `json:"label"`
}

type SentimentBreakdown struct {
	Positive float64 `json:"positive"`
	Negative float64 `json:"negative"`
	Neutral  float64 `json:"neutral"`
}

type SentimentAnalysis struct {
	Overall   Sentiment          `json:"overall"`
	Score     float64            `json:"score"`
	Timeline  []SentimentPoint   `json:"timeline"`
	Breakdown SentimentBreakdown `json:"breakdown"`
}

type Emotion struct {
	Emotion   string  `json:"emotion"`
	Intensity float64 `json:"intensity"`
	Timestamp float64 `json:"timestamp"`
	Speaker   Speaker `json:"speaker"`
}

type Topic struct {
	Name      string    `json:"name"`
	Relevance float64   `json:"relevance"`
	Sentiment Sentiment `json:"sentiment"`
	Mentions  int       `json:"mentions"`
}

type ActionItem struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

type AgentPerformance struct {
	EmpathyScore         int      `json:"empathy_score"`
	ClarityScore         int      `json:"clarity_score"`
	ResolutionScore      int      `json:"resolution_score"`
	ProfessionalismScore int      `json:"professionalism_score"`
	OverallScore         int      `json:"overall_score"`
	Strengths            []string `json:"strengths"`
	Improvements         []string `json:"improvements"`
}

type RiskFactor struct {
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
}

// Analytics is the normalized analysis result attached to a call. Source is
// the provider that produced it ("gemini", "openai" or "synthetic").
type Analytics struct {
	ID                   string            `json:"id"`
	CallID               string            `json:"call_id"`
	Summary              string            `json:"summary"`
	KeyPoints            []string          `json:"key_points"`
	Sentiment            SentimentAnalysis `json:"sentiment"`
	Emotions             []Emotion         `json:"emotions"`
	Topics               []Topic           `json:"topics"`
	ActionItems          []ActionItem      `json:"action_items"`
	CustomerSatisfaction float64           `json:"customer_satisfaction"`
	AgentPerformance     AgentPerformance  `json:"agent_performance"`
	RiskFactors          []RiskFactor      `json:"risk_factors"`
	Source               string            `json:"source"`
	ModelVersion         string            `json:"model_version"`
	AnalyzedAt           time.Time         `json:"analyzed_at"`
}
