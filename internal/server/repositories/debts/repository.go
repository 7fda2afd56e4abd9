package debts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/debtkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, debt *models.Debt) error
	GetByID(ctx context.Context, id string) (*models.Debt, error)
	ListByParticipant(ctx context.Context, userID string) ([]*models.Debt, error)
	// CompareAndSetStatus moves the debt from -> to only if it is still in
	// from. A lost race yields common.ErrorInvalidState.
	CompareAndSetStatus(ctx context.Context, id string, from, to models.DebtStatus, at time.Time) error
}
