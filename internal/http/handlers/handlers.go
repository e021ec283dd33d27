package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/callscope/backend/internal/analysis"
	"github.com/callscope/backend/internal/chain"
	"github.com/callscope/backend/internal/convai"
	"github.com/callscope/backend/internal/db"
	"github.com/callscope/backend/internal/health"
	"github.com/callscope/backend/internal/metrics"
	"github.com/callscope/backend/internal/models"
	"github.com/callscope/backend/internal/poller"
)

type CallStore interface {
	Ping(ctx context.Context) error
	ListCalls(ctx context.Context, f db.CallFilter) ([]db.StoredCall, error)
	GetCall(ctx context.Context, id string) (db.StoredCall, error)
}

// Feed accepts pushed vendor messages.
type Feed interface {
	Ingest(ctx context.Context, c models.Conversation) error
	Transfer(ctx context.Context, tr models.Transfer) error
	AppendTranscript(ctx context.Context, id string, segments []models.TranscriptSegment) error
	Status() poller.Status
}

type Conversations interface {
	Active() []models.Conversation
	Journey(id string) (chain.JourneyView, error)
}

type Handler struct {
	Store         CallStore
	Feed          Feed
	Conversations Conversations
	Dispatcher    *analysis.Dispatcher
	Queue         interface{ Enqueue(models.CallRecord) bool }
	OnAnalysis    analysis.ResultHandler
	Health        *health.Checker
	Agents        *convai.AgentDirectory
	Metrics       *metrics.Metrics
	Validator     *validator.Validate
	Logger        zerolog.Logger
	Now           func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

func (h *Handler) Healthz(c *gin.Context) {
	if h.Store == nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database not configured", nil)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary Vendor and poller status
// @Tags status
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/status [get]
func (h *Handler) Status(c *gin.Context) {
	out := gin.H{}
	if h.Health != nil {
		out["health"] = h.Health.Status()
	}
	if h.Feed != nil {
		out["poller"] = h.Feed.Status()
	}
	c.JSON(http.StatusOK, out)
}

// @Summary List calls
// @Tags calls
// @Produce json
// @Param status query string false "Call status"
// @Param agent_type query string false "Agent type"
// @Param merged query bool false "Only merged (true) or only single-agent (false) calls"
// @Param q query string false "Search customer, phone or id"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} map[string]any
// @Router /api/calls [get]
func (h *Handler) CallsList(c *gin.Context) {
	if h.Store == nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database not configured", nil)
		return
	}
	f := db.CallFilter{
		Status:    strings.TrimSpace(c.Query("status")),
		AgentType: strings.TrimSpace(c.Query("agent_type")),
		Q:         c.Query("q"),
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if v := c.Query("merged"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "merged must be a boolean", v)
			return
		}
		f.Merged = &b
	}

	items, err := h.Store.ListCalls(c.Request.Context(), f)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list calls", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": f.Limit, "offset": f.Offset})
}

func (h *Handler) CallDetails(c *gin.Context) {
	if h.Store == nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database not configured", nil)
		return
	}
	call, err := h.Store.GetCall(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Call not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get call", err.Error())
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h *Handler) ActiveConversations(c *gin.Context) {
	items := h.Conversations.Active()
	if items == nil {
		items = []models.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary Handoff journey of a conversation
// @Tags conversations
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/conversations/{id}/journey [get]
func (h *Handler) Journey(c *gin.Context) {
	view, err := h.Conversations.Journey(c.Param("id"))
	switch {
	case err == nil:
	case errors.Is(err, chain.ErrMergeArchived):
		h.storedJourney(c, view.RootID)
		return
	case errors.Is(err, chain.ErrUnknownConversation):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Conversation not found", nil)
		return
	default:
		writeError(c, http.StatusConflict, "CHAIN_ERROR", "Conversation chain is inconsistent", err.Error())
		return
	}
	c.JSON(http.StatusOK, view)
}

// storedJourney answers from the persisted merged call once the tracker has
// released it.
func (h *Handler) storedJourney(c *gin.Context, rootID string) {
	if h.Store == nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Merged call is not persisted", nil)
		return
	}
	stored, err := h.Store.GetCall(c.Request.Context(), chain.MergedID(rootID))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Merged call is not persisted", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get merged call", err.Error())
		return
	}
	c.JSON(http.StatusOK, chain.JourneyView{RootID: rootID, Steps: stored.Journey})
}

type webhookHeader struct {
	Type string `json:"type" validate:"required"`
}

// @Summary Push a conversational vendor event
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 202 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/webhooks/convai [post]
func (h *Handler) Webhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read body", err.Error())
		return
	}
	var hdr webhookHeader
	if err := json.Unmarshal(body, &hdr); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(hdr); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	msg, err := convai.ParseMessage(body, h.Agents, h.now())
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_MESSAGE", "Malformed vendor message", err.Error())
		return
	}
	h.Metrics.WebhookMessage(msg.Kind.String())

	ctx := c.Request.Context()
	switch msg.Kind {
	case convai.KindConversationStarted, convai.KindConversationEnded:
		err = h.Feed.Ingest(ctx, *msg.Conversation)
	case convai.KindTranscriptUpdate:
		err = h.Feed.AppendTranscript(ctx, msg.Segment.ConversationID, []models.TranscriptSegment{msg.Segment.Segment})
	case convai.KindAgentTransfer:
		if verr := h.Validator.Struct(msg.Transfer); verr != nil {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", verr.Error())
			return
		}
		err = h.Feed.Transfer(ctx, *msg.Transfer)
	default:
		h.Logger.Info().Str("type", msg.RawType).Msg("ignoring unknown vendor message")
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
		return
	}

	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "kind": msg.Kind.String()})
	case errors.Is(err, poller.ErrDisconnected):
		writeError(c, http.StatusServiceUnavailable, "DISCONNECTED", "Live feed is disconnected", nil)
	case errors.Is(err, chain.ErrUnknownConversation):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Conversation not found", err.Error())
	case errors.Is(err, chain.ErrConversationClosed):
		writeError(c, http.StatusConflict, "CONVERSATION_CLOSED", "Conversation already ended", err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "INGEST_ERROR", "Failed to ingest message", err.Error())
	}
}

type AnalyzeRequest struct {
	Mode string `json:"mode" validate:"omitempty,oneof=auto synthetic"`
}

// @Summary Re-run analysis for a stored call
// @Tags calls
// @Accept json
// @Produce json
// @Param id path string true "Call ID"
// @Success 200 {object} models.Analytics
// @Success 202 {object} map[string]any
// @Router /api/calls/{id}/analyze [post]
func (h *Handler) Analyze(c *gin.Context) {
	if h.Store == nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database not configured", nil)
		return
	}
	var req AnalyzeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
			return
		}
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	stored, err := h.Store.GetCall(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Call not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get call", err.Error())
		return
	}
	call := stored.CallRecord
	if call.Status == models.StatusActive {
		writeError(c, http.StatusConflict, "CALL_ACTIVE", "Call has not ended", nil)
		return
	}

	if req.Mode == "synthetic" || h.Queue == nil {
		a := h.Dispatcher.Synthetic(call)
		if h.OnAnalysis != nil {
			h.OnAnalysis(c.Request.Context(), call, a)
		}
		c.JSON(http.StatusOK, a)
		return
	}
	queued := h.Queue.Enqueue(call)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "already_pending": !queued})
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
