// Package postgres provides the pgx-backed meeting.Store used in
// production deployments. Guarded status transitions are rendered as
// conditional UPDATEs so concurrent webhook deliveries resolve without
// row locks.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/voiceloop/voiceloop/meeting"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a PostgreSQL-backed meeting.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database, applies pending migrations, and returns
// the store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := migrate(pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func migrate(pool *pgxpool.Pool) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) Meeting(ctx context.Context, id string) (*meeting.Meeting, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, agent_id, status, COALESCE(transcript_url, ''), COALESCE(recording_url, ''), created_at, updated_at
		FROM meetings WHERE id = $1`, id)

	var m meeting.Meeting
	if err := row.Scan(&m.ID, &m.AgentID, &m.Status, &m.TranscriptURL, &m.RecordingURL, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, meeting.ErrNotFound
		}
		return nil, fmt.Errorf("select meeting: %w", err)
	}
	return &m, nil
}

func (s *Store) Agent(ctx context.Context, id string) (*meeting.Agent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, name, instructions FROM agents WHERE id = $1`, id)

	var a meeting.Agent
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Instructions); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, meeting.ErrNotFound
		}
		return nil, fmt.Errorf("select agent: %w", err)
	}
	return &a, nil
}

func (s *Store) TransitionFrom(ctx context.Context, id string, from, to meeting.Status) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE meetings SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`, to, time.Now().UTC(), id, from)
	if err != nil {
		return false, fmt.Errorf("transition meeting: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	return false, s.existsErr(ctx, id)
}

func (s *Store) TransitionUnless(ctx context.Context, id string, to meeting.Status, deny ...meeting.Status) (bool, error) {
	denied := make([]string, len(deny))
	for i, d := range deny {
		denied[i] = string(d)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE meetings SET status = $1, updated_at = $2
		WHERE id = $3 AND status != ALL($4)`, to, time.Now().UTC(), id, denied)
	if err != nil {
		return false, fmt.Errorf("transition meeting: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	return false, s.existsErr(ctx, id)
}

func (s *Store) SetTranscriptURL(ctx context.Context, id, url string) error {
	return s.setURL(ctx, id, "transcript_url", url)
}

func (s *Store) SetRecordingURL(ctx context.Context, id, url string) error {
	return s.setURL(ctx, id, "recording_url", url)
}

func (s *Store) setURL(ctx context.Context, id, column, url string) error {
	// column is one of two fixed identifiers, never caller input.
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE meetings SET %s = $1, updated_at = $2 WHERE id = $3`, column),
		url, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update meeting %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return meeting.ErrNotFound
	}
	return nil
}

// existsErr distinguishes "row absent" from "predicate not satisfied" after
// a conditional update touched no rows.
func (s *Store) existsErr(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM meetings WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check meeting: %w", err)
	}
	if !exists {
		return meeting.ErrNotFound
	}
	return nil
}
