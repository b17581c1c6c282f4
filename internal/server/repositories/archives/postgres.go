package archives

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/dbx"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX. FileIDs are
// stored as a JSONB array to keep their order.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const archiveColumns = `id, name, file_ids, state, format, size, error_message, storage_key, download_count, created_at, updated_at, completed_at`

func (r *PostgresRepository) Insert(ctx context.Context, a *models.Archive) error {
	ids, err := json.Marshal(a.FileIDs)
	if err != nil {
		return fmt.Errorf("encode file ids: %w", err)
	}

	query := `INSERT INTO archives (` + archiveColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.db.ExecContext(ctx, query,
		a.ID, a.Name, string(ids), string(a.State), string(a.Format), nullInt64(a.Size),
		nullString(a.ErrorMessage), a.StorageKey, a.DownloadCount, a.CreatedAt, a.UpdatedAt, nullTime(a.CompletedAt))
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.NewConflictError("archive", a.ID, "already exists")
		}
		return dbx.Wrap("insert archive", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Archive, error) {
	query := `SELECT ` + archiveColumns + ` FROM archives WHERE id = $1`

	a, err := scanArchive(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("archive", id)
	}
	if err != nil {
		return nil, dbx.Wrap("select archive", err)
	}
	return a, nil
}

func (r *PostgresRepository) CompareAndSwap(ctx context.Context, expected models.ArchiveState, a *models.Archive) error {
	query := `UPDATE archives
		SET state = $2, size = $3, error_message = $4, updated_at = $5, completed_at = $6
		WHERE id = $1 AND state = $7`

	res, err := r.db.ExecContext(ctx, query,
		a.ID, string(a.State), nullInt64(a.Size), nullString(a.ErrorMessage), a.UpdatedAt, nullTime(a.CompletedAt), string(expected))
	if err != nil {
		return dbx.Wrap("update archive", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbx.Wrap("rows affected", err)
	}
	if n != 1 {
		return common.NewConflictError("archive", a.ID, "no longer "+string(expected))
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM archives WHERE id = $1`, id)
	if err != nil {
		return dbx.Wrap("delete archive", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbx.Wrap("rows affected", err)
	}
	if n == 0 {
		return common.NewNotFoundError("archive", id)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, p models.ListParams) ([]*models.Archive, error) {
	p = p.Normalized()
	query := `SELECT ` + archiveColumns + ` FROM archives
		WHERE ($1 = '' OR state = $1)
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, p.State, p.Limit, p.Offset)
	if err != nil {
		return nil, dbx.Wrap("select archives", err)
	}
	defer rows.Close()

	result := make([]*models.Archive, 0)
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, dbx.Wrap("scan archive", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.Wrap("select archives", err)
	}
	return result, nil
}

func (r *PostgresRepository) IncrementDownloadCount(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE archives SET download_count = download_count + 1 WHERE id = $1 AND state = 'idle'`, id)
	if err != nil {
		return dbx.Wrap("increment download count", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbx.Wrap("rows affected", err)
	}
	if n == 0 {
		return common.NewConflictError("archive", id, "not idle")
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArchive(s scanner) (*models.Archive, error) {
	var (
		a           models.Archive
		ids         []byte
		state       string
		format      string
		size        sql.NullInt64
		errMsg      sql.NullString
		completedAt sql.NullTime
	)
	if err := s.Scan(&a.ID, &a.Name, &ids, &state, &format, &size, &errMsg, &a.StorageKey,
		&a.DownloadCount, &a.CreatedAt, &a.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(ids, &a.FileIDs); err != nil {
		return nil, fmt.Errorf("decode file ids of %s: %w", a.ID, err)
	}
	a.State = models.ArchiveState(state)
	a.Format = models.Format(format)
	a.ErrorMessage = errMsg.String
	if size.Valid {
		v := size.Int64
		a.Size = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		a.CompletedAt = &v
	}
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
