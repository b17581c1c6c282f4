package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/dbx"
	"github.com/dmitrijs2005/gophzip/internal/server/repositories/archives"
	"github.com/dmitrijs2005/gophzip/internal/server/repositories/files"
	"github.com/dmitrijs2005/gophzip/internal/server/repositories/leases"
	"github.com/dmitrijs2005/gophzip/internal/server/repositories/repomanager"
)

// Postgres is the production Store.
type Postgres struct {
	db *sql.DB
	rm repomanager.RepositoryManager
}

func NewPostgres(db *sql.DB, rm repomanager.RepositoryManager) *Postgres {
	return &Postgres{db: db, rm: rm}
}

// OpenPostgres connects with the pgx driver, checks the connection and
// applies migrations.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewPostgres(db, rm), nil
}

func (s *Postgres) Files() files.Repository       { return s.rm.Files(s.db) }
func (s *Postgres) Archives() archives.Repository { return s.rm.Archives(s.db) }

// Leases returns the lease table sharing this connection pool.
func (s *Postgres) Leases() leases.Repository { return s.rm.Leases(s.db) }

func (s *Postgres) DB() *sql.DB { return s.db }

func (s *Postgres) Close() error { return s.db.Close() }

func (s *Postgres) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	err := dbx.WithTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, &pgTx{tx: tx, rm: s.rm})
	})
	if err != nil && !common.IsTransient(err) && dbx.IsTransient(err) {
		return common.Transient("transaction", err)
	}
	return err
}

type pgTx struct {
	tx dbx.DBTX
	rm repomanager.RepositoryManager
}

func (t *pgTx) Files() files.Repository       { return t.rm.Files(t.tx) }
func (t *pgTx) Archives() archives.Repository { return t.rm.Archives(t.tx) }

// InTx on a transactional Store joins the outer transaction.
func (t *pgTx) InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, t)
}
