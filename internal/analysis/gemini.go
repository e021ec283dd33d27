package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/callscope/backend/internal/models"
)

const defaultGeminiModel = "gemini-2.5-flash-lite"

// GeminiAnalyzer calls generateContent through the GenAI SDK. BaseURL and
// Client are optional overrides; the SDK client is built on first use.
type GeminiAnalyzer struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client

	once   sync.Once
	sdk    *genai.Client
	sdkErr error
}

func (g *GeminiAnalyzer) Name() string { return SourceGemini }

func (g *GeminiAnalyzer) model() string {
	if g.Model == "" {
		return defaultGeminiModel
	}
	return g.Model
}

func (g *GeminiAnalyzer) client(ctx context.Context) (*genai.Client, error) {
	if strings.TrimSpace(g.APIKey) == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrNotConfigured)
	}
	g.once.Do(func() {
		httpClient := g.Client
		if httpClient == nil {
			httpClient = &http.Client{Timeout: 60 * time.Second}
		}
		g.sdk, g.sdkErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:      g.APIKey,
			Backend:     genai.BackendGeminiAPI,
			HTTPClient:  httpClient,
			HTTPOptions: genai.HTTPOptions{BaseURL: strings.TrimRight(g.BaseURL, "/")},
		})
	})
	return g.sdk, g.sdkErr
}

func (g *GeminiAnalyzer) AnalyzeText(ctx context.Context, call models.CallRecord) (models.Analytics, error) {
	parts := []*genai.Part{genai.NewPartFromText(textPrompt(call))}
	return g.generate(ctx, call, parts, 2048)
}

func (g *GeminiAnalyzer) AnalyzeAudio(ctx context.Context, call models.CallRecord, audio Audio) (models.Analytics, error) {
	mime := audio.MimeType
	if mime == "" {
		mime = "audio/mpeg"
	}
	parts := []*genai.Part{
		genai.NewPartFromText(audioPrompt(call)),
		genai.NewPartFromBytes(audio.Data, mime),
	}
	return g.generate(ctx, call, parts, 4096)
}

func (g *GeminiAnalyzer) generate(ctx context.Context, call models.CallRecord, parts []*genai.Part, maxTokens int32) (models.Analytics, error) {
	client, err := g.client(ctx)
	if err != nil {
		return models.Analytics{}, err
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.7),
		MaxOutputTokens:  maxTokens,
		ResponseMIMEType: "application/json",
	}
	resp, err := client.Models.GenerateContent(ctx, g.model(), contents, cfg)
	if err != nil {
		return models.Analytics{}, classifyGeminiError(err)
	}
	r, err := decodeReport(resp.Text())
	if err != nil {
		return models.Analytics{}, err
	}
	a := r.toAnalytics(call)
	a.ModelVersion = g.Model
	return a, nil
}

// Ping reads the model metadata, which needs a valid key but no quota.
func (g *GeminiAnalyzer) Ping(ctx context.Context) error {
	client, err := g.client(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Models.Get(ctx, g.model(), nil); err != nil {
		return classifyGeminiError(err)
	}
	return nil
}

func classifyGeminiError(err error) error {
	apiErr, ok := asAPIError(err)
	if !ok {
		return err
	}
	if apiErr.Code == http.StatusTooManyRequests {
		return &RateLimitError{Provider: SourceGemini, RetryAfter: retryDelay(apiErr.Details)}
	}
	return fmt.Errorf("gemini api error %d: %s", apiErr.Code, apiErr.Message)
}

func asAPIError(err error) (genai.APIError, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return *p, true
	}
	return genai.APIError{}, false
}

// retryDelay reads google.rpc.RetryInfo from the error details.
func retryDelay(details []map[string]any) time.Duration {
	for _, d := range details {
		t, _ := d["@type"].(string)
		if !strings.Contains(t, "RetryInfo") {
			continue
		}
		if s, ok := d["retryDelay"].(string); ok {
			if dur, err := time.ParseDuration(s); err == nil {
				return dur
			}
		}
	}
	return 0
}
