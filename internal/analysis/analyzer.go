package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/callscope/backend/internal/models"
)

const (
	SourceGemini    = "gemini"
	SourceOpenAI    = "openai"
	SourceSynthetic = "synthetic"
)

var (
	ErrMalformedResponse = errors.New("malformed analysis response")
	ErrNotConfigured     = errors.New("analysis provider is not configured")
)

// RateLimitError is returned when a provider answers 429.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (r *RateLimitError) Error() string {
	if r.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited, retry after %s", r.Provider, r.RetryAfter)
	}
	return r.Provider + " rate limited"
}

// Audio is a downloaded call recording.
type Audio struct {
	Data     []byte
	MimeType string
}

// Analyzer produces analytics from call metadata and transcript text.
type Analyzer interface {
	Name() string
	AnalyzeText(ctx context.Context, call models.CallRecord) (models.Analytics, error)
}

// AudioAnalyzer is implemented by providers that can listen to the recording.
type AudioAnalyzer interface {
	AnalyzeAudio(ctx context.Context, call models.CallRecord, audio Audio) (models.Analytics, error)
}

// AudioFetcher downloads recordings; convai.Client implements it.
type AudioFetcher interface {
	FetchAudio(ctx context.Context, url string) ([]byte, string, error)
}

// Pinger is implemented by providers that support a cheap liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

var analyticsNamespace = uuid.MustParse("6f1c1f0e-5a8e-4c39-9d51-2b8f04c1a7d2")

// AnalyticsID is stable for a given call and source.
func AnalyticsID(callID, source string) string {
	return "analytics_" + uuid.NewSHA1(analyticsNamespace, []byte(source+":"+callID)).String()
}

// Normalize makes a result safe to hand downstream: identity fields set, no
// nil slices, scores in range.
func Normalize(a models.Analytics, call models.CallRecord, source, modelVersion string, at time.Time) models.Analytics {
	a.CallID = call.ID
	a.Source = source
	if a.ModelVersion == "" {
		a.ModelVersion = modelVersion
	}
	if a.ID == "" {
		a.ID = AnalyticsID(call.ID, source)
	}
	a.AnalyzedAt = at.UTC()

	if a.KeyPoints == nil {
		a.KeyPoints = []string{}
	}
	if a.Sentiment.Overall == "" {
		a.Sentiment.Overall = models.SentimentNeutral
	}
	if a.Sentiment.Timeline == nil {
		a.Sentiment.Timeline = []models.SentimentPoint{}
	}
	if a.Emotions == nil {
		a.Emotions = []models.Emotion{}
	}
	if a.Topics == nil {
		a.Topics = []models.Topic{}
	}
	if a.ActionItems == nil {
		a.ActionItems = []models.ActionItem{}
	}
	if a.RiskFactors == nil {
		a.RiskFactors = []models.RiskFactor{}
	}
	p := &a.AgentPerformance
	if p.Strengths == nil {
		p.Strengths = []string{}
	}
	if p.Improvements == nil {
		p.Improvements = []string{}
	}
	p.OverallScore = clampScore(p.OverallScore)
	p.EmpathyScore = clampScore(p.EmpathyScore)
	p.ClarityScore = clampScore(p.ClarityScore)
	p.ResolutionScore = clampScore(p.ResolutionScore)
	p.ProfessionalismScore = clampScore(p.ProfessionalismScore)
	a.CustomerSatisfaction = clampRange(a.CustomerSatisfaction, 0, 5)
	return a
}
