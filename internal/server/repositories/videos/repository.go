package videos

import (
	"context"
	"time"

	"github.com/dmitrijs2005/debtkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, v *models.VideoEvidence) error
	GetByID(ctx context.Context, id string) (*models.VideoEvidence, error)
	// MarkUploadFinalized records that the staged file has reached its final
	// location. Only finalized uploads can be approved.
	MarkUploadFinalized(ctx context.Context, id, stagedPath string, at time.Time) error
	CompareAndSetStatus(ctx context.Context, id string, from, to models.VideoStatus, at time.Time) error
	// MarkEncrypted completes an encryption run: it stores the key material,
	// clears the staged path and sets Encrypted. The video must be in
	// ProcessingEncryption.
	MarkEncrypted(ctx context.Context, id string, m models.EncryptionMaterial, at time.Time) error
}
