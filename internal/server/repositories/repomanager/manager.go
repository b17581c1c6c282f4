// Package repomanager vends repositories bound to a database handle and
// runs the schema migrations.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophzip/internal/dbx"
	"github.com/dmitrijs2005/gophzip/internal/server/repositories/archives"
	"github.com/dmitrijs2005/gophzip/internal/server/repositories/files"
	"github.com/dmitrijs2005/gophzip/internal/server/repositories/leases"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Files(db dbx.DBTX) files.Repository
	Archives(db dbx.DBTX) archives.Repository
	Leases(db dbx.DBTX) leases.Repository
}
