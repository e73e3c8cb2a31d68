// Package repomanager opens the database, runs the embedded goose
// migrations and vends repositories bound to a dbx.DBTX, so services can use
// the same constructors inside and outside transactions.
package repomanager

import (
	"context"

	"github.com/dmitrijs2005/qvault/internal/dbx"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/devices"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/records"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/qvault/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *dbx.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Records(db dbx.DBTX) records.Repository
	AuditLogs(db dbx.DBTX) auditlogs.Repository
	Devices(db dbx.DBTX) devices.Repository
}
