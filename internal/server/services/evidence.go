package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/dmitrijs2005/debtkeeper/internal/blob"
	"github.com/dmitrijs2005/debtkeeper/internal/common"
	"github.com/dmitrijs2005/debtkeeper/internal/cryptox"
	"github.com/dmitrijs2005/debtkeeper/internal/dbx"
	"github.com/dmitrijs2005/debtkeeper/internal/logging"
	"github.com/dmitrijs2005/debtkeeper/internal/server/config"
	"github.com/dmitrijs2005/debtkeeper/internal/server/models"
	"github.com/dmitrijs2005/debtkeeper/internal/server/notify"
	"github.com/dmitrijs2005/debtkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	generateKey   = cryptox.GenerateRandomKey
	generateSalt  = cryptox.GenerateSalt
	generateIV    = cryptox.GenerateIV
	encryptStream = cryptox.EncryptStream
	decryptStream = cryptox.DecryptStream
)

// UploadInput is a single evidence upload. Body is read once, as a stream.
type UploadInput struct {
	DebtID      string
	UploaderID  string
	FileName    string
	ContentType string
	Body        io.Reader
}

// EvidenceService runs the video evidence workflow: upload, review,
// encryption and key delivery.
type EvidenceService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       blob.Store
	notifier    notify.Notifier
	config      *config.Config
	log         logging.Logger
	now         func() time.Time
	withTx      txRunner
}

func NewEvidenceService(db *sql.DB, m repomanager.RepositoryManager, store blob.Store, n notify.Notifier,
	cfg *config.Config, log logging.Logger) *EvidenceService {
	return &EvidenceService{
		db:          db,
		repomanager: m,
		store:       store,
		notifier:    n,
		config:      cfg,
		log:         log.With("module", "evidence"),
		now:         func() time.Time { return time.Now().UTC() },
		withTx:      dbx.WithTx,
	}
}

func cleanFileName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// Upload stores a new evidence attempt for an accepted debt. The file lands
// in an incoming area first; it is moved to staging and marked finalized only
// after the database rows have committed.
func (s *EvidenceService) Upload(ctx context.Context, in UploadInput) (*models.VideoEvidence, error) {
	debt, err := s.repomanager.Debts(s.db).GetByID(ctx, in.DebtID)
	if err != nil {
		return nil, err
	}
	if debt.BorrowerID != in.UploaderID {
		return nil, fmt.Errorf("%w: only the borrower can upload evidence", common.ErrorUnauthorized)
	}
	if debt.Status != models.DebtAcceptedPendingVideoUpload {
		return nil, stateError("debt", debt.Status)
	}

	fileName := cleanFileName(in.FileName)
	if fileName == "" {
		return nil, fmt.Errorf("%w: file name is required", common.ErrorValidation)
	}
	if !strings.HasPrefix(in.ContentType, "video/") {
		return nil, fmt.Errorf("%w: content type %q is not a video", common.ErrorValidation, in.ContentType)
	}

	links, err := s.repomanager.Links(s.db).ListByDebtID(ctx, debt.ID)
	if err != nil {
		return nil, fmt.Errorf("error loading evidence links: %w", err)
	}
	for _, l := range links {
		if l.Status.Live() {
			return nil, fmt.Errorf("%w: debt already has evidence in status %s", common.ErrorInvalidState, l.Status)
		}
	}

	now := s.now()
	stored := blob.StoredFileName(fileName, now)
	incoming := blob.IncomingKey(stored)

	limit := s.config.MaxUploadBytes
	n, err := s.store.Put(ctx, incoming, io.LimitReader(in.Body, limit+1))
	if err != nil {
		s.discard(ctx, incoming)
		return nil, fmt.Errorf("%w: write upload: %v", common.ErrorStorage, err)
	}
	if n > limit {
		s.discard(ctx, incoming)
		return nil, fmt.Errorf("%w: file exceeds %d bytes", common.ErrorValidation, limit)
	}
	if n == 0 {
		s.discard(ctx, incoming)
		return nil, fmt.Errorf("%w: file is empty", common.ErrorValidation)
	}

	video := &models.VideoEvidence{
		ID:               uuid.NewString(),
		UploadedBy:       in.UploaderID,
		OriginalFileName: fileName,
		StoredFileName:   stored,
		StagedPath:       &incoming,
		FileSize:         n,
		ContentType:      in.ContentType,
		UploadDateUTC:    now,
		Status:           models.VideoPendingApproval,
		UpdatedAt:        now,
	}
	link := &models.EvidenceLink{
		ID:        uuid.NewString(),
		DebtID:    debt.ID,
		VideoID:   video.ID,
		Status:    models.VideoPendingApproval,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.withTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Videos(tx).Create(ctx, video); err != nil {
			return err
		}
		return s.repomanager.Links(tx).Create(ctx, link)
	})
	if err != nil {
		s.discard(ctx, incoming)
		if errors.Is(err, common.ErrorInvalidState) {
			return nil, err
		}
		return nil, fmt.Errorf("error saving evidence: %w", err)
	}

	staged := blob.StagedKey(stored)
	if err := s.store.Move(ctx, incoming, staged); err != nil {
		s.abandonUpload(ctx, video.ID, incoming)
		return nil, fmt.Errorf("%w: finalize upload: %v", common.ErrorStorage, err)
	}
	if err := s.repomanager.Videos(s.db).MarkUploadFinalized(ctx, video.ID, staged, s.now()); err != nil {
		s.abandonUpload(ctx, video.ID, staged)
		return nil, fmt.Errorf("%w: finalize upload: %v", common.ErrorStorage, err)
	}

	s.log.Info(ctx, "evidence uploaded", "debt_id", debt.ID, "video_id", video.ID, "size", n)
	return s.repomanager.Videos(s.db).GetByID(ctx, video.ID)
}

// abandonUpload retires a committed upload whose file could not be
// finalized, so the debt is free for a new attempt.
func (s *EvidenceService) abandonUpload(ctx context.Context, videoID, key string) {
	ctx = context.WithoutCancel(ctx)
	err := s.setVideoStatus(ctx, videoID, models.VideoPendingApproval, models.VideoRejected)
	if err != nil {
		s.log.Error(ctx, "cannot retire unfinalized upload", "video_id", videoID, "error", err)
	}
	s.discard(ctx, key)
}

func (s *EvidenceService) discard(ctx context.Context, key string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.log.Warn(ctx, "cannot delete blob", "key", key, "error", err)
	}
}

// setVideoStatus moves the video and mirrors the status onto its link in one
// transaction.
func (s *EvidenceService) setVideoStatus(ctx context.Context, videoID string, from, to models.VideoStatus) error {
	return s.withTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		at := s.now()
		if err := s.repomanager.Videos(tx).CompareAndSetStatus(ctx, videoID, from, to, at); err != nil {
			return err
		}
		return s.repomanager.Links(tx).SetStatus(ctx, videoID, to, at)
	})
}

// reviewTarget loads everything an approver decision needs and checks the
// approver may decide on it.
func (s *EvidenceService) reviewTarget(ctx context.Context, videoID, approverID string) (*models.VideoEvidence, *models.Debt, *models.User, error) {
	approver, err := loadActor(ctx, s.db, s.repomanager, approverID)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := requireCapability(approver, models.CapabilityVideoApproval); err != nil {
		return nil, nil, nil, err
	}

	video, err := s.repomanager.Videos(s.db).GetByID(ctx, videoID)
	if err != nil {
		return nil, nil, nil, err
	}
	link, err := s.repomanager.Links(s.db).GetByVideoID(ctx, videoID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error loading evidence link: %w", err)
	}
	debt, err := s.repomanager.Debts(s.db).GetByID(ctx, link.DebtID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error loading debt: %w", err)
	}
	if debt.IsParty(approver.ID) {
		return nil, nil, nil, fmt.Errorf("%w: approvers cannot review evidence for their own debts", common.ErrorUnauthorized)
	}
	return video, debt, approver, nil
}

// Approve encrypts pending evidence and activates the debt. Only one caller
// can move a video out of PendingApproval; the others get ErrorInvalidState.
//
// When the key cannot be delivered the encrypted video is still returned,
// together with an error wrapping common.ErrorDependency.
func (s *EvidenceService) Approve(ctx context.Context, videoID, approverID string) (*models.VideoEvidence, error) {
	return s.startEncryption(ctx, videoID, approverID, models.VideoPendingApproval)
}

// RetryEncryption re-runs a failed encryption from the preserved staged
// plaintext, with a fresh key, salt and IV.
func (s *EvidenceService) RetryEncryption(ctx context.Context, videoID, approverID string) (*models.VideoEvidence, error) {
	return s.startEncryption(ctx, videoID, approverID, models.VideoProcessingError)
}

func (s *EvidenceService) startEncryption(ctx context.Context, videoID, approverID string, from models.VideoStatus) (*models.VideoEvidence, error) {
	video, debt, approver, err := s.reviewTarget(ctx, videoID, approverID)
	if err != nil {
		return nil, err
	}
	if video.Status != from {
		return nil, stateError("evidence", video.Status)
	}
	if !video.UploadFinalized || video.StagedPath == nil {
		return nil, fmt.Errorf("%w: upload is not finalized", common.ErrorInvalidState)
	}
	if debt.Status != models.DebtAcceptedPendingVideoUpload {
		return nil, stateError("debt", debt.Status)
	}

	if err := s.setVideoStatus(ctx, video.ID, from, models.VideoProcessingEncryption); err != nil {
		return nil, err
	}
	s.log.Info(ctx, "encryption started", "video_id", video.ID, "approver_id", approver.ID, "retry", from == models.VideoProcessingError)

	// the run owns the record now; a dropped request must not strand it
	// in ProcessingEncryption
	return s.encryptAndActivate(context.WithoutCancel(ctx), video, debt)
}

func (s *EvidenceService) encryptAndActivate(ctx context.Context, video *models.VideoEvidence, debt *models.Debt) (*models.VideoEvidence, error) {
	key, err := generateKey(s.config.KeyLengthBytes)
	if err != nil {
		return nil, s.failEncryption(ctx, video, "", fmt.Errorf("generate key: %w", err))
	}
	salt, err := generateSalt()
	if err != nil {
		return nil, s.failEncryption(ctx, video, "", fmt.Errorf("generate salt: %w", err))
	}
	iv, err := generateIV()
	if err != nil {
		return nil, s.failEncryption(ctx, video, "", fmt.Errorf("generate iv: %w", err))
	}

	encrypting := blob.EncryptingKey(video.StoredFileName)
	if err := s.encryptToStore(ctx, *video.StagedPath, encrypting, key, salt, iv); err != nil {
		return nil, s.failEncryption(ctx, video, encrypting, err)
	}

	encrypted := blob.EncryptedKey(video.StoredFileName)
	if err := s.store.Move(ctx, encrypting, encrypted); err != nil {
		return nil, s.failEncryption(ctx, video, encrypting, fmt.Errorf("publish ciphertext: %w", err))
	}

	nextDebt := models.DebtActive
	if s.config.RequireOperatorApproval {
		nextDebt = models.DebtPendingOperatorApproval
	}
	material := models.EncryptionMaterial{
		EncryptedPath: encrypted,
		KeyHash:       cryptox.HashKey(key),
		Salt:          salt,
		IV:            iv,
	}

	err = s.withTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		at := s.now()
		if err := s.repomanager.Videos(tx).MarkEncrypted(ctx, video.ID, material, at); err != nil {
			return err
		}
		if err := s.repomanager.Links(tx).SetStatus(ctx, video.ID, models.VideoEncrypted, at); err != nil {
			return err
		}
		return s.repomanager.Debts(tx).CompareAndSetStatus(ctx, debt.ID, models.DebtAcceptedPendingVideoUpload, nextDebt, at)
	})
	if err != nil {
		return nil, s.failEncryption(ctx, video, encrypted, fmt.Errorf("record encryption: %w", err))
	}

	s.discard(ctx, *video.StagedPath)
	s.log.Info(ctx, "evidence encrypted", "video_id", video.ID, "debt_id", debt.ID, "debt_status", nextDebt)

	// The key exists only in memory from here on; deliver it before anything else can fail.
	deliverErr := s.deliverKey(ctx, debt, video.ID, key)

	updated, err := s.repomanager.Videos(s.db).GetByID(ctx, video.ID)
	if err != nil {
		s.log.Warn(ctx, "reload after encryption failed", "video_id", video.ID, "error", err)
		updated = encryptedCopy(video, material, s.now())
	}
	return updated, deliverErr
}

// encryptedCopy is v as it was recorded by MarkEncrypted.
func encryptedCopy(v *models.VideoEvidence, m models.EncryptionMaterial, at time.Time) *models.VideoEvidence {
	c := *v
	c.Status = models.VideoEncrypted
	c.StagedPath = nil
	c.EncryptedPath, c.KeyHash, c.Salt, c.IV = &m.EncryptedPath, &m.KeyHash, &m.Salt, &m.IV
	c.UpdatedAt = at
	return &c
}

// encryptToStore streams the staged plaintext through the cipher straight
// into the blob store. Nothing is buffered beyond one cipher frame.
func (s *EvidenceService) encryptToStore(ctx context.Context, src, dst, key, salt, iv string) error {
	plain, err := s.store.Open(ctx, src)
	if err != nil {
		return fmt.Errorf("open staged file: %w", err)
	}
	defer plain.Close()

	pr, pw := io.Pipe()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := encryptStream(plain, pw, key, salt, iv)
		pw.CloseWithError(err)
		if err != nil {
			return fmt.Errorf("encrypt: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		_, err := s.store.Put(ctx, dst, pr)
		pr.CloseWithError(err)
		if err != nil {
			return fmt.Errorf("write ciphertext: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// failEncryption parks the video in ProcessingError with its staged
// plaintext intact and removes any ciphertext written so far.
func (s *EvidenceService) failEncryption(ctx context.Context, video *models.VideoEvidence, ciphertext string, cause error) error {
	if ciphertext != "" {
		s.discard(ctx, ciphertext)
	}
	if err := s.setVideoStatus(ctx, video.ID, models.VideoProcessingEncryption, models.VideoProcessingError); err != nil {
		s.log.Error(ctx, "cannot record encryption failure", "video_id", video.ID, "error", err)
	}
	s.log.Error(ctx, "encryption failed", "video_id", video.ID, "error", cause)
	return fmt.Errorf("%w: %v", common.ErrorStorage, cause)
}

func (s *EvidenceService) deliverKey(ctx context.Context, debt *models.Debt, videoID, key string) error {
	d := notify.KeyDelivery{
		RecipientID: debt.LenderID,
		DebtID:      debt.ID,
		VideoID:     videoID,
		Amount:      debt.Amount.String(),
		Currency:    debt.CurrencyCode,
		Key:         key,
	}
	if lender, err := s.repomanager.Users(s.db).GetByID(ctx, debt.LenderID); err == nil {
		d.RecipientName = lender.UserName
		d.RecipientEmail = lender.Email
	} else {
		s.log.Warn(ctx, "cannot load lender for key delivery", "debt_id", debt.ID, "error", err)
	}

	if err := s.notifier.SendKey(ctx, d); err != nil {
		s.log.Error(ctx, "evidence key delivery failed",
			"severity", "critical",
			"event", "key_delivery_failed",
			"video_id", videoID,
			"debt_id", debt.ID,
			"lender_id", debt.LenderID,
			"error", err)
		return fmt.Errorf("%w: key delivery for evidence %s: %v", common.ErrorDependency, videoID, err)
	}

	s.log.Info(ctx, "evidence key delivered", "video_id", videoID, "lender_id", debt.LenderID)
	return nil
}

// Reject closes a pending evidence attempt. The borrower may then upload a
// new one.
func (s *EvidenceService) Reject(ctx context.Context, videoID, approverID string) (*models.VideoEvidence, error) {
	video, _, approver, err := s.reviewTarget(ctx, videoID, approverID)
	if err != nil {
		return nil, err
	}
	if video.Status != models.VideoPendingApproval {
		return nil, stateError("evidence", video.Status)
	}
	if err := s.setVideoStatus(ctx, video.ID, models.VideoPendingApproval, models.VideoRejected); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "evidence rejected", "video_id", video.ID, "approver_id", approver.ID)
	return s.repomanager.Videos(s.db).GetByID(ctx, video.ID)
}

// ListEvidence returns every evidence attempt for a debt, oldest first.
func (s *EvidenceService) ListEvidence(ctx context.Context, debtID, actorID string) ([]models.EvidenceView, error) {
	debt, err := s.repomanager.Debts(s.db).GetByID(ctx, debtID)
	if err != nil {
		return nil, err
	}
	if !debt.IsParty(actorID) {
		actor, err := loadActor(ctx, s.db, s.repomanager, actorID)
		if err != nil {
			return nil, err
		}
		if !actor.Has(models.CapabilityVideoApproval) && !actor.Has(models.CapabilityDebtOperator) && !actor.Has(models.CapabilityEvidenceAudit) {
			return nil, fmt.Errorf("%w: not a party to this debt", common.ErrorUnauthorized)
		}
	}

	links, err := s.repomanager.Links(s.db).ListByDebtID(ctx, debt.ID)
	if err != nil {
		return nil, fmt.Errorf("error loading evidence links: %w", err)
	}

	views := make([]models.EvidenceView, 0, len(links))
	for _, l := range links {
		v, err := s.repomanager.Videos(s.db).GetByID(ctx, l.VideoID)
		if err != nil {
			return nil, fmt.Errorf("error loading evidence %s: %w", l.VideoID, err)
		}
		views = append(views, models.EvidenceView{Link: *l, Video: *v})
	}
	return views, nil
}
