// Package services contains the server-side business logic: the debt state
// machine, the video evidence workflow and the evidence access gate. Every
// operation re-checks the caller's relationship to the records it touches
// instead of trusting a role alone.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/debtkeeper/internal/common"
	"github.com/dmitrijs2005/debtkeeper/internal/dbx"
	"github.com/dmitrijs2005/debtkeeper/internal/server/models"
	"github.com/dmitrijs2005/debtkeeper/internal/server/repositories/repomanager"
)

// txRunner matches dbx.WithTx; tests swap in an in-memory runner.
type txRunner func(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx dbx.DBTX) error) error

// loadActor resolves the caller. An unknown caller is unauthorized, not a
// missing resource.
func loadActor(ctx context.Context, db dbx.DBTX, m repomanager.RepositoryManager, userID string) (*models.User, error) {
	if userID == "" {
		return nil, common.ErrorUnauthorized
	}
	u, err := m.Users(db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: unknown user", common.ErrorUnauthorized)
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	return u, nil
}

func requireCapability(u *models.User, c models.Capability) error {
	if !u.Has(c) {
		return fmt.Errorf("%w: %s capability required", common.ErrorUnauthorized, c)
	}
	return nil
}

func stateError(what string, got any) error {
	return fmt.Errorf("%w: %s is %v", common.ErrorInvalidState, what, got)
}
