package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lithammer/shortuuid/v4"
)

// PostgresStore persists interviews in PostgreSQL. Question and response
// sequences live in JSONB arrays; order is the append order, which the
// orchestrator's single-flight latch already serializes per interview.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS interviews (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			daf_id TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT '',
			difficulty TEXT NOT NULL DEFAULT '',
			focus_areas JSONB NOT NULL DEFAULT '[]',
			duration_minutes INT NOT NULL,
			max_questions INT NOT NULL,
			status TEXT NOT NULL DEFAULT 'in_progress',
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			ended_at TIMESTAMPTZ,
			actual_duration_seconds BIGINT NOT NULL DEFAULT 0,
			questions JSONB NOT NULL DEFAULT '[]',
			responses JSONB NOT NULL DEFAULT '[]',
			panelists JSONB NOT NULL DEFAULT '[]'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_interviews_user_status ON interviews (user_id, status);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const interviewColumns = `id, user_id, daf_id, type, difficulty, focus_areas, duration_minutes,
	max_questions, status, started_at, ended_at, actual_duration_seconds,
	questions, responses, panelists`

func (s *PostgresStore) Create(ctx context.Context, iv *Interview) error {
	if iv.ID == "" {
		iv.ID = shortuuid.New()
	}
	if iv.StartedAt.IsZero() {
		iv.StartedAt = time.Now().UTC()
	}
	if iv.Status == "" {
		iv.Status = StatusInProgress
	}

	focus, err := json.Marshal(sliceOrEmpty(iv.FocusAreas))
	if err != nil {
		return fmt.Errorf("marshal focus areas: %w", err)
	}
	panelists, err := json.Marshal(iv.Panelists)
	if err != nil {
		return fmt.Errorf("marshal panelists: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO interviews (id, user_id, daf_id, type, difficulty, focus_areas,
			duration_minutes, max_questions, status, started_at, panelists)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		iv.ID, iv.UserID, iv.DafID, iv.Type, iv.Difficulty, focus,
		iv.DurationMinutes, iv.MaxQuestions, string(iv.Status), iv.StartedAt, panelists,
	)
	if err != nil {
		return fmt.Errorf("create interview: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Interview, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+interviewColumns+` FROM interviews WHERE id=$1`, id)
	return scanInterview(row)
}

func (s *PostgresStore) GetInProgress(ctx context.Context, id, userID string) (*Interview, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+interviewColumns+` FROM interviews
		 WHERE id=$1 AND user_id=$2 AND status='in_progress'`, id, userID)
	return scanInterview(row)
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*Interview, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+interviewColumns+` FROM interviews
		 WHERE user_id=$1 ORDER BY started_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list interviews: %w", err)
	}
	defer rows.Close()

	var out []*Interview
	for rows.Next() {
		iv, err := scanInterview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interviews: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AppendQuestion(ctx context.Context, id string, q Question) error {
	payload, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal question: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE interviews SET questions = questions || $2::jsonb
		 WHERE id=$1 AND status='in_progress'`, id, payload)
	if err != nil {
		return fmt.Errorf("append question: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.appendMissReason(ctx, id)
	}
	return nil
}

func (s *PostgresStore) AppendResponse(ctx context.Context, id string, r Response) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE interviews SET responses = responses || $2::jsonb
		 WHERE id=$1 AND status='in_progress'`, id, payload)
	if err != nil {
		return fmt.Errorf("append response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.appendMissReason(ctx, id)
	}
	return nil
}

func (s *PostgresStore) Complete(ctx context.Context, id string, endedAt time.Time, actualDurationSeconds int64) (*Interview, error) {
	_, err := s.pool.Exec(ctx,
		`UPDATE interviews SET status='completed', ended_at=$2, actual_duration_seconds=$3
		 WHERE id=$1 AND status='in_progress'`, id, endedAt.UTC(), actualDurationSeconds)
	if err != nil {
		return nil, fmt.Errorf("complete interview: %w", err)
	}
	// Re-read so a second Complete returns the original terminal row.
	return s.Get(ctx, id)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) appendMissReason(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return ErrEnded
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInterview(row rowScanner) (*Interview, error) {
	var (
		iv        Interview
		status    string
		focus     []byte
		questions []byte
		responses []byte
		panelists []byte
	)
	err := row.Scan(&iv.ID, &iv.UserID, &iv.DafID, &iv.Type, &iv.Difficulty, &focus,
		&iv.DurationMinutes, &iv.MaxQuestions, &status, &iv.StartedAt, &iv.EndedAt,
		&iv.ActualDuration, &questions, &responses, &panelists)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan interview row: %w", err)
	}
	iv.Status = Status(status)

	if err := json.Unmarshal(focus, &iv.FocusAreas); err != nil {
		return nil, fmt.Errorf("decode focus areas: %w", err)
	}
	if err := json.Unmarshal(questions, &iv.Questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	if err := json.Unmarshal(responses, &iv.Responses); err != nil {
		return nil, fmt.Errorf("decode responses: %w", err)
	}
	if err := json.Unmarshal(panelists, &iv.Panelists); err != nil {
		return nil, fmt.Errorf("decode panelists: %w", err)
	}
	return &iv, nil
}

func sliceOrEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
