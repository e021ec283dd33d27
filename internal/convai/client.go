package convai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/callscope/backend/internal/models"
)

var (
	ErrMalformed = errors.New("malformed conversation payload")
	ErrNoAPIKey  = errors.New("CONVAI_API_KEY is not set")
)

// RateLimitError is returned when the vendor answers 429 Too Many Requests.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (r *RateLimitError) Error() string {
	if r.RetryAfter > 0 {
		return fmt.Sprintf("convai rate limited, retry after %s", r.RetryAfter)
	}
	return "convai rate limited"
}

// IsRateLimited reports whether err carries an explicit rate-limit signal.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// StatusError is a non-2xx answer other than 429.
type StatusError struct {
	Code   int
	Status string
}

func (s *StatusError) Error() string {
	return "convai http error: " + s.Status
}

type Client struct {
	BaseURL string
	APIKey  string
	Agents  *AgentDirectory
	HTTP    *http.Client
}

type Summary struct {
	ConversationID    string `json:"conversation_id"`
	AgentID           string `json:"agent_id"`
	AgentName         string `json:"agent_name"`
	Status            string `json:"status"`
	StartTimeUnixSecs int64  `json:"start_time_unix_secs"`
	EndTimeUnixSecs   int64  `json:"end_time_unix_secs"`
	CallDurationSecs  int64  `json:"call_duration_secs"`
	MessageCount      int    `json:"message_count"`
	PhoneNumber       string `json:"phone_number"`
	CustomerName      string `json:"customer_name"`
	AudioURL          string `json:"audio_url"`
}

type listResponse struct {
	Conversations []Summary `json:"conversations"`
	HasMore       bool      `json:"has_more"`
	NextCursor    string    `json:"next_cursor"`
}

type transcriptTurn struct {
	Role           string   `json:"role"`
	Message        *string  `json:"message"`
	TimeInCallSecs *float64 `json:"time_in_call_secs"`
}

type detailResponse struct {
	ConversationID string           `json:"conversation_id"`
	Status         string           `json:"status"`
	Transcript     []transcriptTurn `json:"transcript"`
	HasAudio       bool             `json:"has_audio"`
}

func (c *Client) client() *http.Client {
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: 15 * time.Second}
	}
	return c.HTTP
}

func (c *Client) endpoint(path string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = "https://api.elevenlabs.io"
	}
	return base + path
}

// ListConversations fetches the most recent conversations, newest first, and
// normalizes them. Items that cannot be normalized are dropped.
func (c *Client) ListConversations(ctx context.Context, limit int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{}
	q.Set("page_size", strconv.Itoa(limit))

	var res listResponse
	if err := c.getJSON(ctx, "/v1/convai/conversations?"+q.Encode(), &res); err != nil {
		return nil, err
	}

	out := make([]models.Conversation, 0, len(res.Conversations))
	for _, s := range res.Conversations {
		conv, err := Normalize(s, c.Agents)
		if err != nil {
			continue
		}
		if conv.AudioURL == "" && conv.Status.Terminal() {
			conv.AudioURL = c.AudioURL(conv.ID)
		}
		out = append(out, conv)
	}
	return out, nil
}

// GetTranscript loads the turn-by-turn transcript of one conversation.
func (c *Client) GetTranscript(ctx context.Context, conversationID string) (models.Transcript, error) {
	var res detailResponse
	if err := c.getJSON(ctx, "/v1/convai/conversations/"+url.PathEscape(conversationID), &res); err != nil {
		return models.Transcript{}, err
	}
	return transcriptFromTurns(res.Transcript), nil
}

func transcriptFromTurns(turns []transcriptTurn) models.Transcript {
	segments := make([]models.TranscriptSegment, 0, len(turns))
	for _, turn := range turns {
		if turn.Message == nil || strings.TrimSpace(*turn.Message) == "" {
			continue
		}
		start := 0.0
		if turn.TimeInCallSecs != nil {
			start = *turn.TimeInCallSecs
		}
		speaker := models.SpeakerCustomer
		if turn.Role == "agent" {
			speaker = models.SpeakerAgent
		}
		segments = append(segments, models.TranscriptSegment{
			Speaker:     speaker,
			Text:        *turn.Message,
			StartOffset: start,
			// the vendor only reports turn starts
			EndOffset:  start + 2,
			Confidence: 0.95,
		})
	}
	return models.NewTranscript(segments)
}

func (c *Client) AudioURL(conversationID string) string {
	return c.endpoint("/v1/convai/conversations/" + url.PathEscape(conversationID) + "/audio")
}

// FetchAudio downloads a recording. The key header is only sent to the vendor host.
func (c *Client) FetchAudio(ctx context.Context, audioURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, "", err
	}
	if strings.HasPrefix(audioURL, c.endpoint("")) && c.APIKey != "" {
		req.Header.Set("xi-api-key", c.APIKey)
	}
	resp, err := c.client().Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, "", err
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "audio/mpeg"
	}
	return b, mime, nil
}

// CheckHealth calls the user endpoint, which only answers for a valid key.
func (c *Client) CheckHealth(ctx context.Context) error {
	var discard map[string]any
	return c.getJSON(ctx, "/v1/user", &discard)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrNoAPIKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return nil
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
