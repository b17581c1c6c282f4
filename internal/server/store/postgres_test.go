package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
	"github.com/dmitrijs2005/gophzip/internal/server/repositories/repomanager"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresWithMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgres(db, repomanager.NewPostgresRepositoryManager()), mock
}

func TestPostgres_InTxCommits(t *testing.T) {
	s, mock := newPostgresWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE files`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO archives`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(ctx context.Context, tx Store) error {
		if err := tx.Files().CompareAndSwap(ctx, models.FileUploading,
			&models.File{ID: "f1", State: models.FileArchiving, ArchiveID: "a1"}); err != nil {
			return err
		}
		return tx.Archives().Insert(ctx, &models.Archive{ID: "a1", State: models.ArchiveQueued, FileIDs: []string{"f1"}})
	})
	require.NoError(t, err)
}

func TestPostgres_InTxRollsBackOnConflict(t *testing.T) {
	s, mock := newPostgresWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE files`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE files`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(ctx context.Context, tx Store) error {
		for _, id := range []string{"f1", "f2"} {
			if err := tx.Files().CompareAndSwap(ctx, models.FileUploading,
				&models.File{ID: id, State: models.FileArchiving, ArchiveID: "a1"}); err != nil {
				return err
			}
		}
		return nil
	})
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestPostgres_InTxBeginFailureIsTransient(t *testing.T) {
	s, mock := newPostgresWithMock(t)

	mock.ExpectBegin().WillReturnError(&pgconn.PgError{Code: "57P03"})

	err := s.InTx(context.Background(), func(ctx context.Context, tx Store) error { return nil })
	assert.True(t, common.IsTransient(err))
}

func TestPostgres_NestedInTxJoinsOuter(t *testing.T) {
	s, mock := newPostgresWithMock(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	sentinel := errors.New("inner")
	err := s.InTx(context.Background(), func(ctx context.Context, tx Store) error {
		return tx.InTx(ctx, func(ctx context.Context, inner Store) error {
			assert.Same(t, tx, inner)
			return sentinel
		})
	})
	assert.ErrorIs(t, err, sentinel)
}
