package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/debtkeeper/internal/common"
	"github.com/dmitrijs2005/debtkeeper/internal/cryptox"
	"github.com/dmitrijs2005/debtkeeper/internal/server/models"
)

// EvidenceStream is decrypted evidence being read lazily from storage.
// Callers must Close it.
type EvidenceStream struct {
	io.Reader
	closer      io.Closer
	ContentType string
	FileName    string
}

func NewEvidenceStream(r io.Reader, c io.Closer, contentType, fileName string) *EvidenceStream {
	return &EvidenceStream{Reader: r, closer: c, ContentType: contentType, FileName: fileName}
}

func (s *EvidenceStream) Close() error { return s.closer.Close() }

// StreamEvidence serves decrypted evidence to a caller holding the one-time
// key. The key is checked against the stored hash before anything is
// decrypted; the cipher itself never re-verifies it.
func (s *EvidenceService) StreamEvidence(ctx context.Context, videoID, requesterID, suppliedKey string) (*EvidenceStream, error) {
	video, err := s.repomanager.Videos(s.db).GetByID(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeReader(ctx, video, requesterID); err != nil {
		return nil, err
	}

	if !video.Readable() {
		return nil, fmt.Errorf("%w: evidence is not available (status %s)", common.ErrorValidation, video.Status)
	}

	if suppliedKey == "" || !cryptox.VerifyKey(suppliedKey, *video.KeyHash) {
		s.log.Warn(ctx, "evidence key rejected", "video_id", video.ID, "requester_id", requesterID)
		return nil, fmt.Errorf("%w: key does not match", common.ErrorUnauthorized)
	}

	rc, err := s.store.Open(ctx, *video.EncryptedPath)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.log.Error(ctx, "encrypted evidence missing from storage", "video_id", video.ID, "path", *video.EncryptedPath)
		}
		return nil, fmt.Errorf("%w: open evidence: %v", common.ErrorStorage, err)
	}

	plain, err := decryptStream(rc, suppliedKey, *video.Salt, *video.IV)
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("%w: decrypt evidence: %v", common.ErrorStorage, err)
	}

	s.log.Info(ctx, "evidence redeemed", "video_id", video.ID, "requester_id", requesterID)
	return NewEvidenceStream(plain, rc, video.ContentType, video.OriginalFileName), nil
}

// authorizeReader allows the lender of the linked debt, or an auditor.
func (s *EvidenceService) authorizeReader(ctx context.Context, video *models.VideoEvidence, requesterID string) error {
	link, err := s.repomanager.Links(s.db).GetByVideoID(ctx, video.ID)
	if err != nil {
		return fmt.Errorf("error loading evidence link: %w", err)
	}
	debt, err := s.repomanager.Debts(s.db).GetByID(ctx, link.DebtID)
	if err != nil {
		return fmt.Errorf("error loading debt: %w", err)
	}
	if debt.LenderID == requesterID {
		return nil
	}

	actor, err := loadActor(ctx, s.db, s.repomanager, requesterID)
	if err != nil {
		return err
	}
	if !actor.Has(models.CapabilityEvidenceAudit) {
		return fmt.Errorf("%w: only the lender can redeem this evidence", common.ErrorUnauthorized)
	}
	return nil
}
