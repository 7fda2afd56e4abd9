package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/dmitrijs2005/debtkeeper/internal/common"
	"github.com/dmitrijs2005/debtkeeper/internal/logging"
	"github.com/dmitrijs2005/debtkeeper/internal/server/models"
	"github.com/dmitrijs2005/debtkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxDescriptionLength = 1000

// OfferInput is what a lender submits to open a debt.
type OfferInput struct {
	BorrowerRef  string
	Amount       decimal.Decimal
	CurrencyCode string
	DueDateUTC   time.Time
	Description  string
}

// DebtService runs the debt state machine.
type DebtService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
	now         func() time.Time
}

func NewDebtService(db *sql.DB, m repomanager.RepositoryManager, log logging.Logger) *DebtService {
	return &DebtService{
		db:          db,
		repomanager: m,
		log:         log.With("module", "debts"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func validateOffer(in *OfferInput, now time.Time) error {
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", common.ErrorValidation)
	}
	in.CurrencyCode = strings.ToUpper(strings.TrimSpace(in.CurrencyCode))
	if len(in.CurrencyCode) != 3 || strings.IndexFunc(in.CurrencyCode, func(r rune) bool { return !unicode.IsUpper(r) }) >= 0 {
		return fmt.Errorf("%w: currency must be a 3-letter ISO code", common.ErrorValidation)
	}
	if !in.DueDateUTC.After(now) {
		return fmt.Errorf("%w: due date must be in the future", common.ErrorValidation)
	}
	if len(in.Description) > maxDescriptionLength {
		return fmt.Errorf("%w: description too long", common.ErrorValidation)
	}
	if strings.TrimSpace(in.BorrowerRef) == "" {
		return fmt.Errorf("%w: borrower is required", common.ErrorValidation)
	}
	return nil
}

// CreateOffer opens a debt in PendingBorrowerAcceptance.
func (s *DebtService) CreateOffer(ctx context.Context, lenderID string, in OfferInput) (*models.Debt, error) {
	lender, err := loadActor(ctx, s.db, s.repomanager, lenderID)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(lender, models.CapabilityDebts); err != nil {
		return nil, err
	}

	now := s.now()
	if err := validateOffer(&in, now); err != nil {
		return nil, err
	}

	borrower, err := s.repomanager.Users(s.db).FindByRef(ctx, in.BorrowerRef)
	if err != nil {
		return nil, fmt.Errorf("borrower %q: %w", in.BorrowerRef, err)
	}
	if borrower.ID == lender.ID {
		return nil, fmt.Errorf("%w: lender and borrower must differ", common.ErrorValidation)
	}

	debt := &models.Debt{
		ID:           uuid.NewString(),
		LenderID:     lender.ID,
		BorrowerID:   borrower.ID,
		Amount:       in.Amount,
		CurrencyCode: in.CurrencyCode,
		Description:  strings.TrimSpace(in.Description),
		DueDateUTC:   in.DueDateUTC.UTC(),
		Status:       models.DebtPendingBorrowerAcceptance,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repomanager.Debts(s.db).Create(ctx, debt); err != nil {
		return nil, fmt.Errorf("error creating debt: %w", err)
	}

	s.log.Info(ctx, "offer created", "debt_id", debt.ID, "lender_id", debt.LenderID, "borrower_id", debt.BorrowerID)
	return debt, nil
}

// RespondToOffer records the borrower's answer. Only one answer ever wins.
func (s *DebtService) RespondToOffer(ctx context.Context, debtID, actorID string, accepted bool) (*models.Debt, error) {
	debt, err := s.repomanager.Debts(s.db).GetByID(ctx, debtID)
	if err != nil {
		return nil, err
	}
	if debt.BorrowerID != actorID {
		return nil, fmt.Errorf("%w: only the borrower can respond", common.ErrorUnauthorized)
	}

	to := models.DebtRejectedByBorrower
	if accepted {
		to = models.DebtAcceptedPendingVideoUpload
	}
	return s.transition(ctx, debt, models.DebtPendingBorrowerAcceptance, to)
}

// MarkDefaulted closes an overdue active debt. This is what later entitles
// the lender to redeem the evidence key.
func (s *DebtService) MarkDefaulted(ctx context.Context, debtID, actorID string) (*models.Debt, error) {
	debt, err := s.repomanager.Debts(s.db).GetByID(ctx, debtID)
	if err != nil {
		return nil, err
	}
	if debt.LenderID != actorID {
		return nil, fmt.Errorf("%w: only the lender can mark a default", common.ErrorUnauthorized)
	}
	if debt.Status != models.DebtActive {
		return nil, stateError("debt", debt.Status)
	}
	if !s.now().After(debt.DueDateUTC) {
		return nil, fmt.Errorf("%w: due date not reached", common.ErrorValidation)
	}
	return s.transition(ctx, debt, models.DebtActive, models.DebtDefaulted)
}

// MarkPaid settles an active debt.
func (s *DebtService) MarkPaid(ctx context.Context, debtID, actorID string) (*models.Debt, error) {
	debt, err := s.repomanager.Debts(s.db).GetByID(ctx, debtID)
	if err != nil {
		return nil, err
	}
	if debt.LenderID != actorID {
		return nil, fmt.Errorf("%w: only the lender can mark a debt paid", common.ErrorUnauthorized)
	}
	return s.transition(ctx, debt, models.DebtActive, models.DebtPaid)
}

// ReviewDebt is the operator moderation step for debts whose evidence has
// been encrypted while operator approval is required.
func (s *DebtService) ReviewDebt(ctx context.Context, debtID, operatorID string, approved bool) (*models.Debt, error) {
	op, err := loadActor(ctx, s.db, s.repomanager, operatorID)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(op, models.CapabilityDebtOperator); err != nil {
		return nil, err
	}

	debt, err := s.repomanager.Debts(s.db).GetByID(ctx, debtID)
	if err != nil {
		return nil, err
	}
	if debt.IsParty(op.ID) {
		return nil, fmt.Errorf("%w: operators cannot review their own debts", common.ErrorUnauthorized)
	}

	to := models.DebtRejectedByOperator
	if approved {
		to = models.DebtActive
	}
	return s.transition(ctx, debt, models.DebtPendingOperatorApproval, to)
}

// GetDebt returns a debt to one of its parties or to an operator/auditor.
func (s *DebtService) GetDebt(ctx context.Context, debtID, actorID string) (*models.Debt, error) {
	debt, err := s.repomanager.Debts(s.db).GetByID(ctx, debtID)
	if err != nil {
		return nil, err
	}
	if debt.IsParty(actorID) {
		return debt, nil
	}
	actor, err := loadActor(ctx, s.db, s.repomanager, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Has(models.CapabilityDebtOperator) || actor.Has(models.CapabilityEvidenceAudit) || actor.Has(models.CapabilityVideoApproval) {
		return debt, nil
	}
	return nil, fmt.Errorf("%w: not a party to this debt", common.ErrorUnauthorized)
}

// ListDebts returns the debts the actor lends or borrows, newest first.
func (s *DebtService) ListDebts(ctx context.Context, actorID string) ([]*models.Debt, error) {
	if actorID == "" {
		return nil, common.ErrorUnauthorized
	}
	return s.repomanager.Debts(s.db).ListByParticipant(ctx, actorID)
}

// transition applies a compare-and-set from -> to and returns the fresh row.
// A debt no longer in from yields ErrorInvalidState.
func (s *DebtService) transition(ctx context.Context, debt *models.Debt, from, to models.DebtStatus) (*models.Debt, error) {
	if debt.Status.Terminal() {
		return nil, fmt.Errorf("%w: debt is closed (%s)", common.ErrorInvalidState, debt.Status)
	}
	if debt.Status != from {
		return nil, stateError("debt", debt.Status)
	}

	repo := s.repomanager.Debts(s.db)
	if err := repo.CompareAndSetStatus(ctx, debt.ID, from, to, s.now()); err != nil {
		return nil, err
	}

	updated, err := repo.GetByID(ctx, debt.ID)
	if err != nil {
		return nil, fmt.Errorf("error reloading debt: %w", err)
	}
	s.log.Info(ctx, "debt status changed", "debt_id", debt.ID, "from", from, "to", to)
	return updated, nil
}
