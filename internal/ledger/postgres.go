package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS call_sessions (
    id           TEXT PRIMARY KEY,
    provider     TEXT NOT NULL,
    model        TEXT NOT NULL DEFAULT '',
    started_at   TIMESTAMPTZ NOT NULL,
    ended_at     TIMESTAMPTZ NOT NULL,
    cost         DOUBLE PRECISION NOT NULL DEFAULT 0,
    close_reason TEXT NOT NULL DEFAULT '',
    clean        BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS call_transcripts (
    id         BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES call_sessions(id) ON DELETE CASCADE,
    role       TEXT NOT NULL,
    text       TEXT NOT NULL,
    turn       INTEGER NOT NULL,
    spoken_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_call_transcripts_session
    ON call_transcripts (session_id, id);
`

// Store archives completed sessions and their transcripts in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database and verifies the connection.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the archive tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// SaveSession archives one completed session.
func (s *Store) SaveSession(ctx context.Context, rec SessionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_sessions (id, provider, model, started_at, ended_at, cost, close_reason, clean)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			cost = EXCLUDED.cost,
			close_reason = EXCLUDED.close_reason,
			clean = EXCLUDED.clean`,
		rec.ID, rec.Provider, rec.Model, rec.StartedAt, rec.EndedAt, rec.Cost, rec.CloseReason, rec.Clean)
	if err != nil {
		return fmt.Errorf("ledger: save session %s: %w", rec.ID, err)
	}
	return nil
}

// SaveTranscripts archives the session's utterances in one batch, preserving
// arrival order.
func (s *Store) SaveTranscripts(ctx context.Context, recs []TranscriptRecord) error {
	if len(recs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range recs {
		batch.Queue(`
			INSERT INTO call_transcripts (session_id, role, text, turn, spoken_at)
			VALUES ($1, $2, $3, $4, $5)`,
			r.SessionID, r.Role, r.Text, r.Turn, r.SpokenAt)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range recs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("ledger: save transcripts: %w", err)
		}
	}
	return nil
}

// Transcripts returns the archived utterances for a session in spoken order.
func (s *Store) Transcripts(ctx context.Context, sessionID string) ([]TranscriptRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, role, text, turn, spoken_at
		FROM call_transcripts
		WHERE session_id = $1
		ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query transcripts: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TranscriptRecord, error) {
		var r TranscriptRecord
		err := row.Scan(&r.SessionID, &r.Role, &r.Text, &r.Turn, &r.SpokenAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: scan transcripts: %w", err)
	}
	return recs, nil
}

// Session returns one archived session.
func (s *Store) Session(ctx context.Context, id string) (SessionRecord, error) {
	var rec SessionRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, provider, model, started_at, ended_at, cost, close_reason, clean
		FROM call_sessions
		WHERE id = $1`,
		id).Scan(&rec.ID, &rec.Provider, &rec.Model, &rec.StartedAt, &rec.EndedAt,
		&rec.Cost, &rec.CloseReason, &rec.Clean)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("ledger: load session %s: %w", id, err)
	}
	return rec, nil
}

