package archives

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

var columns = []string{"id", "name", "file_ids", "state", "format", "size", "error_message", "storage_key",
	"download_count", "created_at", "updated_at", "completed_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresRepository(db), mock
}

func sampleArchive() *models.Archive {
	return &models.Archive{
		ID:         "a1",
		Name:       "bundle",
		FileIDs:    []string{"f2", "f1"},
		State:      models.ArchiveQueued,
		Format:     models.FormatZip,
		StorageKey: "archives/a1.zip",
		CreatedAt:  t0,
		UpdatedAt:  t0,
	}
}

func TestInsert_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`(?s)^INSERT INTO archives \(id, name, file_ids.*\$12\)$`).
		WithArgs("a1", "bundle", `["f2","f1"]`, "queued", "zip", nil, nil, "archives/a1.zip", int64(0), t0, t0, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), sampleArchive()))
}

func TestInsert_Duplicate(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`INSERT INTO archives`).WillReturnError(&pgconn.PgError{Code: "23505"})

	assert.ErrorIs(t, repo.Insert(context.Background(), sampleArchive()), common.ErrConflict)
}

func TestGet_IdleArchive(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	done := t0.Add(time.Minute)
	rows := sqlmock.NewRows(columns).
		AddRow("a1", "bundle", []byte(`["f2","f1"]`), "idle", "zip", int64(3000), nil, "archives/a1.zip", int64(4), t0, done, done)
	mock.ExpectQuery(`(?s)^SELECT id, name, file_ids.*FROM archives WHERE id = \$1$`).
		WithArgs("a1").
		WillReturnRows(rows)

	got, err := repo.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"f2", "f1"}, got.FileIDs, "order must survive the round trip")
	assert.Equal(t, models.ArchiveIdle, got.State)
	require.NotNil(t, got.Size)
	assert.Equal(t, int64(3000), *got.Size)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, done, *got.CompletedAt)
	assert.Equal(t, int64(4), got.DownloadCount)
}

func TestGet_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM archives WHERE id`).WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "a404")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGet_BadFileIDs(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	rows := sqlmock.NewRows(columns).
		AddRow("a1", "bundle", []byte(`not json`), "queued", "zip", nil, nil, "k", int64(0), t0, t0, nil)
	mock.ExpectQuery(`FROM archives WHERE id`).WillReturnRows(rows)

	_, err := repo.Get(context.Background(), "a1")
	assert.ErrorContains(t, err, "decode file ids")
}

func TestCompareAndSwap(t *testing.T) {
	q := `(?s)^UPDATE archives\s+SET state = \$2, size = \$3, error_message = \$4, updated_at = \$5, completed_at = \$6\s+WHERE id = \$1 AND state = \$7$`

	t.Run("applied", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		a := sampleArchive()
		a.State = models.ArchiveIdle
		size := int64(77)
		a.Size = &size
		a.CompletedAt = &t0

		mock.ExpectExec(q).
			WithArgs("a1", "idle", int64(77), nil, t0, t0, "compressing").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.CompareAndSwap(context.Background(), models.ArchiveCompressing, a))
	})

	t.Run("lost race", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)

		mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.CompareAndSwap(context.Background(), models.ArchiveQueued, sampleArchive())
		var ce *common.ConflictError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, "archive", ce.Kind)
	})
}

func TestDelete(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`^DELETE FROM archives WHERE id = \$1$`).WithArgs("a1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`^DELETE FROM archives WHERE id = \$1$`).WithArgs("a2").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), "a1"))
	assert.ErrorIs(t, repo.Delete(context.Background(), "a2"), common.ErrNotFound)
}

func TestList(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	rows := sqlmock.NewRows(columns).
		AddRow("a1", "one", []byte(`["f1"]`), "queued", "zip", nil, nil, "k1", int64(0), t0, t0, nil).
		AddRow("a2", "two", []byte(`["f2"]`), "queued", "tar.gz", nil, nil, "k2", int64(0), t0.Add(time.Second), t0, nil)
	mock.ExpectQuery(`(?s)FROM archives\s+WHERE \(\$1 = '' OR state = \$1\)\s+ORDER BY created_at, id\s+LIMIT \$2 OFFSET \$3$`).
		WithArgs("queued", 2, 4).
		WillReturnRows(rows)

	got, err := repo.List(context.Background(), models.ListParams{Limit: 2, Offset: 4, State: "queued"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.FormatTarGz, got[1].Format)
	assert.Nil(t, got[0].Size)
}

func TestIncrementDownloadCount(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	q := `^UPDATE archives SET download_count = download_count \+ 1 WHERE id = \$1 AND state = 'idle'$`
	mock.ExpectExec(q).WithArgs("a1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("a2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q).WithArgs("a3").WillReturnError(errors.New("db down"))

	require.NoError(t, repo.IncrementDownloadCount(context.Background(), "a1"))
	assert.ErrorIs(t, repo.IncrementDownloadCount(context.Background(), "a2"), common.ErrConflict)
	assert.ErrorContains(t, repo.IncrementDownloadCount(context.Background(), "a3"), "db down")
}
