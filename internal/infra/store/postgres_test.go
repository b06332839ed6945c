package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utabox/utabox/internal/app/session"
	"github.com/utabox/utabox/internal/domain/queue"
)

const (
	testSessionID = "5a0b7f9e-0000-0000-0000-000000000001"
	testItemID    = "5a0b7f9e-0000-0000-0000-000000000002"
)

func sessionColumns() []string {
	return []string{"id", "owner_id", "is_active", "current_track_ref", "current_position", "playing_started_at", "created_at"}
}

func itemColumns() []string {
	return []string{"id", "track_ref", "title", "thumbnail_ref", "source_label", "duration_seconds", "position", "is_playing", "added_at"}
}

func TestPostgres_GetOrCreateActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(sqlmock.AnyArg(), "owner-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id, owner_id, is_active, current_track_ref, current_position, playing_started_at, created_at").
		WithArgs("owner-1").
		WillReturnRows(sqlmock.NewRows(sessionColumns()).
			AddRow(testSessionID, "owner-1", true, nil, 0, nil, now))

	p := NewPostgres(db)
	rec, err := p.GetOrCreateActive(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, testSessionID, rec.ID)
	assert.Equal(t, "owner-1", rec.OwnerID)
	assert.Empty(t, rec.CurrentTrackRef)
	assert.Nil(t, rec.PlayingStartedAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Mutate_InsertWithCursor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("FROM sessions").
		WithArgs(testSessionID).
		WillReturnRows(sqlmock.NewRows(sessionColumns()).
			AddRow(testSessionID, "owner-1", true, nil, 0, nil, now))
	mock.ExpectQuery("FROM queue_items").
		WithArgs(testSessionID).
		WillReturnRows(sqlmock.NewRows(itemColumns()))
	mock.ExpectExec("INSERT INTO queue_items").
		WithArgs(testItemID, testSessionID, "ref-1", "Title", "", "", 180, 0, true, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sessions").
		WithArgs(sqlmock.AnyArg(), 0, sqlmock.AnyArg(), testSessionID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p := NewPostgres(db)
	err = p.Mutate(context.Background(), testSessionID, func(v *session.View) (*session.ChangeSet, error) {
		require.Empty(t, v.Items)
		return &session.ChangeSet{
			Insert: []queue.Item{{
				ID:        testItemID,
				TrackRef:  "ref-1",
				Metadata:  queue.Metadata{Title: "Title", DurationSeconds: 180},
				Position:  0,
				IsPlaying: true,
				AddedAt:   now,
			}},
			Cursor: &session.Cursor{TrackRef: "ref-1", Position: 0, StartedAt: &now},
		}, nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Mutate_RemoveShiftsPositions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	otherID := "5a0b7f9e-0000-0000-0000-000000000003"

	mock.ExpectBegin()
	mock.ExpectQuery("FROM sessions").
		WithArgs(testSessionID).
		WillReturnRows(sqlmock.NewRows(sessionColumns()).
			AddRow(testSessionID, "owner-1", true, "ref-1", 0, now, now))
	mock.ExpectQuery("FROM queue_items").
		WithArgs(testSessionID).
		WillReturnRows(sqlmock.NewRows(itemColumns()).
			AddRow(testItemID, "ref-1", "One", "", "", 0, 0, true, now).
			AddRow(otherID, "ref-2", "Two", "", "", 0, 1, false, now))
	mock.ExpectExec("DELETE FROM queue_items").
		WithArgs(testItemID, testSessionID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE queue_items SET position").
		WithArgs(0, otherID, testSessionID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p := NewPostgres(db)
	err = p.Mutate(context.Background(), testSessionID, func(v *session.View) (*session.ChangeSet, error) {
		require.Len(t, v.Items, 2)
		return &session.ChangeSet{
			Remove:    []string{testItemID},
			Positions: queue.RemovalShifts(0, v.Items),
		}, nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Mutate_FnErrorRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("FROM sessions").
		WithArgs(testSessionID).
		WillReturnRows(sqlmock.NewRows(sessionColumns()).
			AddRow(testSessionID, "owner-1", true, nil, 0, nil, now))
	mock.ExpectQuery("FROM queue_items").
		WithArgs(testSessionID).
		WillReturnRows(sqlmock.NewRows(itemColumns()))
	mock.ExpectRollback()

	boom := errors.New("boom")
	p := NewPostgres(db)
	err = p.Mutate(context.Background(), testSessionID, func(v *session.View) (*session.ChangeSet, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Mutate_UnknownSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM sessions").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(sessionColumns()))
	mock.ExpectRollback()

	p := NewPostgres(db)
	err = p.Mutate(context.Background(), "nope", func(v *session.View) (*session.ChangeSet, error) {
		t.Fatal("fn must not run for a missing session")
		return nil, nil
	})
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ExpiredPlaying(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("FROM sessions s").
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(testSessionID))

	p := NewPostgres(db)
	ids, err := p.ExpiredPlaying(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{testSessionID}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
