package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/callscope/backend/internal/models"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// StoredCall is a persisted call with its latest analytics, if any.
type StoredCall struct {
	models.CallRecord
	Analytics *models.Analytics `json:"analytics,omitempty"`
}

type CallFilter struct {
	Status    string
	AgentType string
	Q         string
	Merged    *bool
	Limit     int
	Offset    int
}

// UpsertCall writes the call row and, when the call carries segments, replaces
// its stored transcript in the same transaction.
func (s *Store) UpsertCall(ctx context.Context, call models.CallRecord) error {
	journey, err := json.Marshal(nonNilJourney(call.Journey))
	if err != nil {
		return err
	}
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO calls (id, conversation_id, parent_conversation_id, start_time, end_time, duration_seconds,
				status, phone_number, customer_name, agent_id, agent_name, agent_type, handoff_reason, audio_url,
				part_of_handoff, merged, journey, full_text, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,NOW())
			ON CONFLICT (id) DO UPDATE SET
				parent_conversation_id = EXCLUDED.parent_conversation_id,
				start_time = EXCLUDED.start_time,
				end_time = COALESCE(EXCLUDED.end_time, calls.end_time),
				duration_seconds = EXCLUDED.duration_seconds,
				status = EXCLUDED.status,
				phone_number = EXCLUDED.phone_number,
				customer_name = EXCLUDED.customer_name,
				agent_id = EXCLUDED.agent_id,
				agent_name = EXCLUDED.agent_name,
				agent_type = EXCLUDED.agent_type,
				handoff_reason = EXCLUDED.handoff_reason,
				audio_url = EXCLUDED.audio_url,
				part_of_handoff = EXCLUDED.part_of_handoff,
				merged = EXCLUDED.merged,
				journey = EXCLUDED.journey,
				full_text = CASE WHEN EXCLUDED.full_text = '' THEN calls.full_text ELSE EXCLUDED.full_text END,
				updated_at = NOW()
		`, call.ID, call.ConversationID, nullString(call.ParentConversationID), call.StartTime.UTC(), utcPtr(call.EndTime),
			call.DurationSeconds, string(call.Status), call.PhoneNumber, call.CustomerName, call.AgentID, call.AgentName,
			string(call.AgentType), call.HandoffReason, call.AudioURL, call.PartOfHandoff, call.Merged, journey,
			call.Transcript.FullText)
		if err != nil {
			return err
		}
		if len(call.Transcript.Segments) == 0 {
			return nil
		}
		return replaceSegments(ctx, tx, call.ID, call.Transcript.Segments)
	})
}

// SaveTranscript replaces the stored segments of a call.
func (s *Store) SaveTranscript(ctx context.Context, callID string, tr models.Transcript) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE calls SET full_text = $1, updated_at = NOW() WHERE id = $2`, tr.FullText, callID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("save transcript %s: %w", callID, ErrNotFound)
		}
		return replaceSegments(ctx, tx, callID, tr.Segments)
	})
}

func replaceSegments(ctx context.Context, tx pgx.Tx, callID string, segments []models.TranscriptSegment) error {
	if _, err := tx.Exec(ctx, `DELETE FROM transcript_segments WHERE call_id = $1`, callID); err != nil {
		return err
	}
	rows := make([][]any, 0, len(segments))
	for i, seg := range segments {
		rows = append(rows, []any{callID, i, string(seg.Speaker), seg.Text, seg.StartOffset, seg.EndOffset, seg.Confidence})
	}
	_, err := tx.CopyFrom(ctx, pgx.Identifier{"transcript_segments"}, []string{"call_id", "position", "speaker", "text", "start_offset", "end_offset", "confidence"}, pgx.CopyFromRows(rows))
	return err
}

// SaveAnalytics keeps one analytics document per call; a newer analysis
// replaces the old one.
func (s *Store) SaveAnalytics(ctx context.Context, a models.Analytics) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO analytics (call_id, id, source, model_version, customer_satisfaction, sentiment, payload, analyzed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (call_id) DO UPDATE SET
			id = EXCLUDED.id,
			source = EXCLUDED.source,
			model_version = EXCLUDED.model_version,
			customer_satisfaction = EXCLUDED.customer_satisfaction,
			sentiment = EXCLUDED.sentiment,
			payload = EXCLUDED.payload,
			analyzed_at = EXCLUDED.analyzed_at
	`, a.CallID, a.ID, a.Source, a.ModelVersion, a.CustomerSatisfaction, string(a.Sentiment.Overall), payload, a.AnalyzedAt.UTC())
	return err
}

const callColumns = `c.id, c.conversation_id, c.parent_conversation_id, c.start_time, c.end_time, c.duration_seconds,
	c.status, c.phone_number, c.customer_name, c.agent_id, c.agent_name, c.agent_type, c.handoff_reason, c.audio_url,
	c.part_of_handoff, c.merged, c.journey, c.full_text, an.payload`

func scanCall(row pgx.Row) (StoredCall, error) {
	var (
		out       StoredCall
		parentID  *string
		endTime   *time.Time
		status    string
		agentType string
		journey   []byte
		fullText  string
		payload   []byte
	)
	c := &out.CallRecord
	if err := row.Scan(&c.ID, &c.ConversationID, &parentID, &c.StartTime, &endTime, &c.DurationSeconds,
		&status, &c.PhoneNumber, &c.CustomerName, &c.AgentID, &c.AgentName, &agentType, &c.HandoffReason, &c.AudioURL,
		&c.PartOfHandoff, &c.Merged, &journey, &fullText, &payload); err != nil {
		return StoredCall{}, err
	}
	c.ParentConversationID = derefString(parentID)
	c.EndTime = endTime
	c.Status = models.Status(status)
	c.AgentType = models.AgentType(agentType)
	c.Transcript = models.Transcript{Segments: []models.TranscriptSegment{}, FullText: fullText}
	if len(journey) > 0 {
		if err := json.Unmarshal(journey, &c.Journey); err != nil {
			return StoredCall{}, fmt.Errorf("decode journey of %s: %w", c.ID, err)
		}
	}
	if len(payload) > 0 {
		var a models.Analytics
		if err := json.Unmarshal(payload, &a); err != nil {
			return StoredCall{}, fmt.Errorf("decode analytics of %s: %w", c.ID, err)
		}
		out.Analytics = &a
	}
	return out, nil
}

func (s *Store) ListCalls(ctx context.Context, f CallFilter) ([]StoredCall, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	query := `SELECT ` + callColumns + ` FROM calls c LEFT JOIN analytics an ON an.call_id = c.id`
	var args []any
	var wheres []string
	if f.Status != "" {
		args = append(args, f.Status)
		wheres = append(wheres, fmt.Sprintf("c.status = $%d", len(args)))
	}
	if f.AgentType != "" {
		args = append(args, f.AgentType)
		wheres = append(wheres, fmt.Sprintf("c.agent_type = $%d", len(args)))
	}
	if f.Merged != nil {
		args = append(args, *f.Merged)
		wheres = append(wheres, fmt.Sprintf("c.merged = $%d", len(args)))
	}
	if f.Q != "" {
		args = append(args, "%"+f.Q+"%")
		wheres = append(wheres, fmt.Sprintf("(c.customer_name ILIKE $%d OR c.phone_number ILIKE $%d OR c.id ILIKE $%d)", len(args), len(args), len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY c.start_time DESC LIMIT $" + fmt.Sprint(len(args)+1) + " OFFSET $" + fmt.Sprint(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []StoredCall{}
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCall returns the call with its full segment list.
func (s *Store) GetCall(ctx context.Context, id string) (StoredCall, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+callColumns+` FROM calls c LEFT JOIN analytics an ON an.call_id = c.id WHERE c.id = $1`, id)
	call, err := scanCall(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StoredCall{}, fmt.Errorf("call %s: %w", id, ErrNotFound)
		}
		return StoredCall{}, err
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT speaker, text, start_offset, end_offset, confidence
		FROM transcript_segments WHERE call_id = $1 ORDER BY position ASC
	`, id)
	if err != nil {
		return StoredCall{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var seg models.TranscriptSegment
		var speaker string
		if err := rows.Scan(&speaker, &seg.Text, &seg.StartOffset, &seg.EndOffset, &seg.Confidence); err != nil {
			return StoredCall{}, err
		}
		seg.Speaker = models.Speaker(speaker)
		call.Transcript.Segments = append(call.Transcript.Segments, seg)
	}
	if err := rows.Err(); err != nil {
		return StoredCall{}, err
	}
	if call.Transcript.FullText == "" && len(call.Transcript.Segments) > 0 {
		call.Transcript.FullText = models.RenderFullText(call.Transcript.Segments)
	}
	return call, nil
}

// ListCallsForReanalysis returns finished calls that are analyzed on their
// own: standalone conversations and merged chains, never chain members.
func (s *Store) ListCallsForReanalysis(ctx context.Context, limit int) ([]models.CallRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `SELECT `+callColumns+`
		FROM calls c LEFT JOIN analytics an ON an.call_id = c.id
		WHERE c.status <> 'active' AND (c.merged OR NOT c.part_of_handoff)
		ORDER BY c.start_time DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CallRecord
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c.CallRecord)
	}
	return out, rows.Err()
}

func nonNilJourney(steps []models.JourneyStep) []models.JourneyStep {
	if steps == nil {
		return []models.JourneyStep{}
	}
	return steps
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
