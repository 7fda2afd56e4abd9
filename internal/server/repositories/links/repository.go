package links

import (
	"context"
	"time"

	"github.com/dmitrijs2005/debtkeeper/internal/server/models"
)

type Repository interface {
	// Create fails with common.ErrorInvalidState when the debt already has
	// live evidence.
	Create(ctx context.Context, l *models.EvidenceLink) error
	GetByVideoID(ctx context.Context, videoID string) (*models.EvidenceLink, error)
	ListByDebtID(ctx context.Context, debtID string) ([]*models.EvidenceLink, error)
	SetStatus(ctx context.Context, videoID string, status models.VideoStatus, at time.Time) error
}
