package leases

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/dbx"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
)

// PostgresRepository keeps leases in the leases table. Expiry is judged by
// the database clock.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Acquire(ctx context.Context, archiveID, owner string, ttl time.Duration) (bool, error) {
	query := `INSERT INTO leases (archive_id, owner, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (archive_id) DO UPDATE
			SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
			WHERE leases.expires_at < now() OR leases.owner = EXCLUDED.owner`

	res, err := r.db.ExecContext(ctx, query, archiveID, owner, ttl.Seconds())
	if err != nil {
		return false, dbx.Wrap("acquire lease", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbx.Wrap("rows affected", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Release(ctx context.Context, archiveID, owner string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM leases WHERE archive_id = $1 AND owner = $2`, archiveID, owner)
	return dbx.Wrap("release lease", err)
}

func (r *PostgresRepository) Get(ctx context.Context, archiveID string) (*models.Lease, error) {
	query := `SELECT archive_id, owner, expires_at FROM leases WHERE archive_id = $1 AND expires_at > now()`

	var l models.Lease
	err := r.db.QueryRowContext(ctx, query, archiveID).Scan(&l.ArchiveID, &l.Owner, &l.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("lease", archiveID)
	}
	if err != nil {
		return nil, dbx.Wrap("select lease", err)
	}
	return &l, nil
}
