package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/debtkeeper/internal/dbx"
	"github.com/dmitrijs2005/debtkeeper/internal/server/repositories/debts"
	"github.com/dmitrijs2005/debtkeeper/internal/server/repositories/links"
	"github.com/dmitrijs2005/debtkeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/debtkeeper/internal/server/repositories/videos"
)

// RepositoryManager vends repositories bound to a *sql.DB or a *sql.Tx, so a
// service can run several of them inside one transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Debts(db dbx.DBTX) debts.Repository
	Videos(db dbx.DBTX) videos.Repository
	Links(db dbx.DBTX) links.Repository
}
