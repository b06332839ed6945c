package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/utabox/utabox/internal/app/session"
	"github.com/utabox/utabox/internal/domain/queue"
)

// Postgres persists sessions and queue items in PostgreSQL. Every mutation
// runs in one transaction that locks the session row, so concurrent writers
// on the same session are serialized by the database.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a store backed by the given database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id UUID PRIMARY KEY,
		owner_id TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		current_track_ref TEXT,
		current_position INTEGER NOT NULL DEFAULT 0,
		playing_started_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS sessions_active_owner_idx
		ON sessions (owner_id) WHERE is_active`,
	`CREATE TABLE IF NOT EXISTS queue_items (
		id UUID PRIMARY KEY,
		session_id UUID NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		track_ref TEXT NOT NULL,
		title TEXT NOT NULL,
		thumbnail_ref TEXT NOT NULL DEFAULT '',
		source_label TEXT NOT NULL DEFAULT '',
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		position INTEGER NOT NULL,
		is_playing BOOLEAN NOT NULL DEFAULT FALSE,
		added_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS queue_items_session_position_idx
		ON queue_items (session_id, position)`,
	`CREATE INDEX IF NOT EXISTS queue_items_session_playing_idx
		ON queue_items (session_id, is_playing)`,
}

// Migrate applies the schema idempotently.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "apply migration")
		}
	}
	return nil
}

// GetOrCreateActive inserts a new active session unless one exists for the
// owner. The partial unique index on (owner_id) WHERE is_active makes the
// insert-if-absent atomic under concurrent first access.
func (p *Postgres) GetOrCreateActive(ctx context.Context, ownerID string) (session.Record, error) {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner_id, is_active)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (owner_id) WHERE is_active DO NOTHING`,
		uuid.New().String(), ownerID)
	if err != nil {
		return session.Record{}, errors.Wrap(err, "insert session")
	}

	var rec session.Record
	var trackRef sql.NullString
	var startedAt sql.NullTime
	err = p.db.QueryRowContext(ctx, `
		SELECT id, owner_id, is_active, current_track_ref, current_position, playing_started_at, created_at
		FROM sessions
		WHERE owner_id = $1 AND is_active`,
		ownerID).Scan(&rec.ID, &rec.OwnerID, &rec.IsActive, &trackRef, &rec.CurrentPosition, &startedAt, &rec.CreatedAt)
	if err != nil {
		return session.Record{}, errors.Wrap(err, "select active session")
	}
	rec.CurrentTrackRef = trackRef.String
	if startedAt.Valid {
		t := startedAt.Time
		rec.PlayingStartedAt = &t
	}
	return rec, nil
}

// View loads the session record and its items ordered by position.
func (p *Postgres) View(ctx context.Context, sessionID string) (*session.View, error) {
	rec, err := p.selectSession(ctx, p.db.QueryRowContext, sessionID, false)
	if err != nil {
		return nil, err
	}
	items, err := p.selectItems(ctx, p.db.QueryContext, sessionID)
	if err != nil {
		return nil, err
	}
	return &session.View{Session: rec, Items: items}, nil
}

type rowQuerier func(ctx context.Context, query string, args ...any) *sql.Row
type rowsQuerier func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (p *Postgres) selectSession(ctx context.Context, q rowQuerier, sessionID string, forUpdate bool) (session.Record, error) {
	query := `
		SELECT id, owner_id, is_active, current_track_ref, current_position, playing_started_at, created_at
		FROM sessions
		WHERE id = $1`
	if forUpdate {
		query += `
		FOR UPDATE`
	}

	var rec session.Record
	var trackRef sql.NullString
	var startedAt sql.NullTime
	err := q(ctx, query, sessionID).
		Scan(&rec.ID, &rec.OwnerID, &rec.IsActive, &trackRef, &rec.CurrentPosition, &startedAt, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Record{}, session.ErrSessionNotFound
	}
	if err != nil {
		return session.Record{}, errors.Wrap(err, "select session")
	}
	rec.CurrentTrackRef = trackRef.String
	if startedAt.Valid {
		t := startedAt.Time
		rec.PlayingStartedAt = &t
	}
	return rec, nil
}

func (p *Postgres) selectItems(ctx context.Context, q rowsQuerier, sessionID string) ([]queue.Item, error) {
	rows, err := q(ctx, `
		SELECT id, track_ref, title, thumbnail_ref, source_label, duration_seconds, position, is_playing, added_at
		FROM queue_items
		WHERE session_id = $1
		ORDER BY position`,
		sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "select queue items")
	}
	defer rows.Close()

	items := make([]queue.Item, 0)
	for rows.Next() {
		var it queue.Item
		if err := rows.Scan(&it.ID, &it.TrackRef, &it.Metadata.Title, &it.Metadata.ThumbnailRef,
			&it.Metadata.SourceLabel, &it.Metadata.DurationSeconds, &it.Position, &it.IsPlaying, &it.AddedAt); err != nil {
			return nil, errors.Wrap(err, "scan queue item")
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate queue items")
	}
	return items, nil
}

// Mutate runs fn against the locked session state and applies the returned
// change set inside the same transaction. fn errors and apply errors roll
// everything back, so no partial write is ever visible.
func (p *Postgres) Mutate(ctx context.Context, sessionID string, fn func(v *session.View) (*session.ChangeSet, error)) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var rec session.Record
	rec, err = p.selectSession(ctx, tx.QueryRowContext, sessionID, true)
	if err != nil {
		return err
	}
	var items []queue.Item
	items, err = p.selectItems(ctx, tx.QueryContext, sessionID)
	if err != nil {
		return err
	}

	var cs *session.ChangeSet
	cs, err = fn(&session.View{Session: rec, Items: items})
	if err != nil {
		return err
	}
	if cs == nil {
		return errors.Wrap(tx.Commit(), "commit tx")
	}

	if err = p.applyChangeSet(ctx, tx, sessionID, cs); err != nil {
		return mapPQError(err)
	}

	if err = tx.Commit(); err != nil {
		return mapPQError(errors.Wrap(err, "commit tx"))
	}
	return nil
}

func (p *Postgres) applyChangeSet(ctx context.Context, tx *sql.Tx, sessionID string, cs *session.ChangeSet) error {
	if cs.RemoveAll {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM queue_items WHERE session_id = $1`, sessionID); err != nil {
			return errors.Wrap(err, "delete all queue items")
		}
	}
	for _, id := range cs.Remove {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM queue_items WHERE id = $1 AND session_id = $2`, id, sessionID); err != nil {
			return errors.Wrap(err, "delete queue item")
		}
	}
	for _, pc := range cs.Positions {
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_items SET position = $1 WHERE id = $2 AND session_id = $3`,
			pc.Position, pc.ItemID, sessionID); err != nil {
			return errors.Wrap(err, "update queue item position")
		}
	}
	for _, it := range cs.Insert {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO queue_items (id, session_id, track_ref, title, thumbnail_ref, source_label, duration_seconds, position, is_playing, added_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			it.ID, sessionID, it.TrackRef, it.Metadata.Title, it.Metadata.ThumbnailRef,
			it.Metadata.SourceLabel, it.Metadata.DurationSeconds, it.Position, it.IsPlaying, it.AddedAt); err != nil {
			return errors.Wrap(err, "insert queue item")
		}
	}
	if cs.Playing != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_items SET is_playing = FALSE WHERE session_id = $1 AND is_playing`, sessionID); err != nil {
			return errors.Wrap(err, "clear playing flag")
		}
		if *cs.Playing != "" {
			if _, err := tx.ExecContext(ctx,
				`UPDATE queue_items SET is_playing = TRUE WHERE id = $1 AND session_id = $2`,
				*cs.Playing, sessionID); err != nil {
				return errors.Wrap(err, "set playing flag")
			}
		}
	}
	if cs.Cursor != nil {
		trackRef := sql.NullString{String: cs.Cursor.TrackRef, Valid: cs.Cursor.TrackRef != ""}
		var startedAt sql.NullTime
		if cs.Cursor.StartedAt != nil {
			startedAt = sql.NullTime{Time: *cs.Cursor.StartedAt, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET current_track_ref = $1, current_position = $2, playing_started_at = $3
			WHERE id = $4`,
			trackRef, cs.Cursor.Position, startedAt, sessionID); err != nil {
			return errors.Wrap(err, "update session cursor")
		}
	}
	return nil
}

// ExpiredPlaying finds active sessions whose playing item has a known
// duration that elapsed before now.
func (p *Postgres) ExpiredPlaying(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT s.id
		FROM sessions s
		JOIN queue_items q ON q.session_id = s.id AND q.is_playing
		WHERE s.is_active
		  AND s.playing_started_at IS NOT NULL
		  AND q.duration_seconds > 0
		  AND s.playing_started_at + (q.duration_seconds * INTERVAL '1 second') < $1`,
		now)
	if err != nil {
		return nil, errors.Wrap(err, "select expired sessions")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan session id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate expired sessions")
	}
	return ids, nil
}

// mapPQError marks retryable database failures so callers can distinguish
// concurrency conflicts from hard errors.
func mapPQError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return errors.Mark(err, session.ErrConflict)
		}
	}
	return err
}
