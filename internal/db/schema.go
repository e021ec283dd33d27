package db

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	parent_conversation_id TEXT,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ,
	duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	phone_number TEXT NOT NULL DEFAULT '',
	customer_name TEXT NOT NULL DEFAULT '',
	agent_id TEXT NOT NULL DEFAULT '',
	agent_name TEXT NOT NULL DEFAULT '',
	agent_type TEXT NOT NULL DEFAULT '',
	handoff_reason TEXT NOT NULL DEFAULT '',
	audio_url TEXT NOT NULL DEFAULT '',
	part_of_handoff BOOLEAN NOT NULL DEFAULT FALSE,
	merged BOOLEAN NOT NULL DEFAULT FALSE,
	journey JSONB NOT NULL DEFAULT '[]',
	full_text TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS calls_start_time_idx ON calls (start_time DESC);

CREATE TABLE IF NOT EXISTS transcript_segments (
	call_id TEXT NOT NULL REFERENCES calls(id) ON DELETE CASCADE,
	position INT NOT NULL,
	speaker TEXT NOT NULL,
	text TEXT NOT NULL,
	start_offset DOUBLE PRECISION NOT NULL,
	end_offset DOUBLE PRECISION NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (call_id, position)
);

CREATE TABLE IF NOT EXISTS analytics (
	call_id TEXT PRIMARY KEY REFERENCES calls(id) ON DELETE CASCADE,
	id TEXT NOT NULL,
	source TEXT NOT NULL,
	model_version TEXT NOT NULL DEFAULT '',
	customer_satisfaction DOUBLE PRECISION NOT NULL DEFAULT 0,
	sentiment TEXT NOT NULL DEFAULT '',
	payload JSONB NOT NULL,
	analyzed_at TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates missing tables. It is safe to run on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, schema)
	return err
}
