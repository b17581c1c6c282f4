package files

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/dbx"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const fileColumns = `id, filename, size, content_type, state, archive_id, error_message, storage_key, created_at, updated_at`

func (r *PostgresRepository) Insert(ctx context.Context, f *models.File) error {
	query := `INSERT INTO files (` + fileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		f.ID, f.Filename, f.Size, f.ContentType, string(f.State),
		nullString(f.ArchiveID), nullString(f.ErrorMessage), f.StorageKey, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.NewConflictError("file", f.ID, "already exists")
		}
		return dbx.Wrap("insert file", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`

	f, err := scanFile(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("file", id)
	}
	if err != nil {
		return nil, dbx.Wrap("select file", err)
	}
	return f, nil
}

func (r *PostgresRepository) CompareAndSwap(ctx context.Context, expected models.FileState, f *models.File) error {
	query := `UPDATE files
		SET state = $2, archive_id = $3, error_message = $4, updated_at = $5
		WHERE id = $1 AND state = $6 AND (archive_id IS NULL OR archive_id = $3)`

	res, err := r.db.ExecContext(ctx, query,
		f.ID, string(f.State), nullString(f.ArchiveID), nullString(f.ErrorMessage), f.UpdatedAt, string(expected))
	if err != nil {
		return dbx.Wrap("update file", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbx.Wrap("rows affected", err)
	}
	if n != 1 {
		return common.NewConflictError("file", f.ID, "no longer "+string(expected))
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return dbx.Wrap("delete file", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbx.Wrap("rows affected", err)
	}
	if n == 0 {
		return common.NewNotFoundError("file", id)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, p models.ListParams) ([]*models.File, error) {
	p = p.Normalized()
	query := `SELECT ` + fileColumns + ` FROM files
		WHERE ($1 = '' OR state = $1)
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, p.State, p.Limit, p.Offset)
	if err != nil {
		return nil, dbx.Wrap("select files", err)
	}
	defer rows.Close()

	result := make([]*models.File, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, dbx.Wrap("scan file", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.Wrap("select files", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.File, error) {
	var (
		f         models.File
		state     string
		archiveID sql.NullString
		errMsg    sql.NullString
	)
	if err := s.Scan(&f.ID, &f.Filename, &f.Size, &f.ContentType, &state, &archiveID, &errMsg,
		&f.StorageKey, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.State = models.FileState(state)
	f.ArchiveID = archiveID.String
	f.ErrorMessage = errMsg.String
	return &f, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
