package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/debtkeeper/internal/common"
	"github.com/dmitrijs2005/debtkeeper/internal/server/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOffer_Valid(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		amount string
		due    time.Duration
		ref    string
	}{
		{"by id", "0.01", time.Second, borrowerID},
		{"by email", "100", 24 * time.Hour, "  BORROWER@example.com "},
		{"large amount", "123456789.99", 365 * 24 * time.Hour, borrowerID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := e.debts.CreateOffer(ctx, lenderID, OfferInput{
				BorrowerRef:  tt.ref,
				Amount:       decimal.RequireFromString(tt.amount),
				CurrencyCode: "usd",
				DueDateUTC:   e.now().Add(tt.due),
			})
			require.NoError(t, err)
			assert.Equal(t, models.DebtPendingBorrowerAcceptance, d.Status)
			assert.Equal(t, lenderID, d.LenderID)
			assert.Equal(t, borrowerID, d.BorrowerID)
			assert.Equal(t, "USD", d.CurrencyCode)
			assert.True(t, d.Amount.Equal(decimal.RequireFromString(tt.amount)))
			assert.Nil(t, d.BorrowerApprovalAt)
			assert.Equal(t, models.DebtPendingBorrowerAcceptance, e.db.debt(t, d.ID).Status)
		})
	}
}

func TestCreateOffer_Invalid(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	valid := func() OfferInput {
		return OfferInput{
			BorrowerRef:  borrowerID,
			Amount:       decimal.NewFromInt(10),
			CurrencyCode: "EUR",
			DueDateUTC:   e.now().Add(time.Hour),
		}
	}

	tests := []struct {
		name   string
		lender string
		mutate func(*OfferInput)
		want   error
	}{
		{"zero amount", lenderID, func(in *OfferInput) { in.Amount = decimal.Zero }, common.ErrorValidation},
		{"negative amount", lenderID, func(in *OfferInput) { in.Amount = decimal.NewFromInt(-5) }, common.ErrorValidation},
		{"due now", lenderID, func(in *OfferInput) { in.DueDateUTC = e.now() }, common.ErrorValidation},
		{"due in past", lenderID, func(in *OfferInput) { in.DueDateUTC = e.now().Add(-time.Minute) }, common.ErrorValidation},
		{"short currency", lenderID, func(in *OfferInput) { in.CurrencyCode = "EU" }, common.ErrorValidation},
		{"numeric currency", lenderID, func(in *OfferInput) { in.CurrencyCode = "E1R" }, common.ErrorValidation},
		{"long description", lenderID, func(in *OfferInput) { in.Description = strings.Repeat("x", 1001) }, common.ErrorValidation},
		{"missing borrower", lenderID, func(in *OfferInput) { in.BorrowerRef = " " }, common.ErrorValidation},
		{"self as borrower", lenderID, func(in *OfferInput) { in.BorrowerRef = lenderID }, common.ErrorValidation},
		{"unknown borrower", lenderID, func(in *OfferInput) { in.BorrowerRef = "nobody" }, common.ErrorNotFound},
		{"lender lacks capability", strangerID, func(*OfferInput) {}, common.ErrorUnauthorized},
		{"unknown lender", "ghost", func(*OfferInput) {}, common.ErrorUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid()
			tt.mutate(&in)
			_, err := e.debts.CreateOffer(ctx, tt.lender, in)
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, e.db.debts)
}

func TestRespondToOffer(t *testing.T) {
	ctx := context.Background()

	t.Run("accept", func(t *testing.T) {
		e := newTestEnv(t)
		d, err := e.debts.RespondToOffer(ctx, e.offer(t).ID, borrowerID, true)
		require.NoError(t, err)
		assert.Equal(t, models.DebtAcceptedPendingVideoUpload, d.Status)
		require.NotNil(t, d.BorrowerApprovalAt)
		assert.Equal(t, e.now(), *d.BorrowerApprovalAt)
	})

	t.Run("reject is final", func(t *testing.T) {
		e := newTestEnv(t)
		offer := e.offer(t)
		d, err := e.debts.RespondToOffer(ctx, offer.ID, borrowerID, false)
		require.NoError(t, err)
		assert.Equal(t, models.DebtRejectedByBorrower, d.Status)

		_, err = e.debts.RespondToOffer(ctx, offer.ID, borrowerID, true)
		require.ErrorIs(t, err, common.ErrorInvalidState)
		assert.Contains(t, err.Error(), "debt is closed")
		_, err = e.debts.RespondToOffer(ctx, offer.ID, borrowerID, false)
		require.ErrorIs(t, err, common.ErrorInvalidState)
		assert.Equal(t, models.DebtRejectedByBorrower, e.db.debt(t, offer.ID).Status)
	})

	t.Run("only the borrower", func(t *testing.T) {
		e := newTestEnv(t)
		offer := e.offer(t)
		for _, who := range []string{lenderID, strangerID, operatorID} {
			_, err := e.debts.RespondToOffer(ctx, offer.ID, who, true)
			require.ErrorIs(t, err, common.ErrorUnauthorized, who)
		}
		assert.Equal(t, models.DebtPendingBorrowerAcceptance, e.db.debt(t, offer.ID).Status)
	})

	t.Run("unknown debt", func(t *testing.T) {
		e := newTestEnv(t)
		_, err := e.debts.RespondToOffer(ctx, "missing", borrowerID, true)
		require.ErrorIs(t, err, common.ErrorNotFound)
	})
}

func TestRespondToOffer_ConcurrentAnswersOneWins(t *testing.T) {
	e := newTestEnv(t)
	offer := e.offer(t)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		conflict int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(accept bool) {
			defer wg.Done()
			_, err := e.debts.RespondToOffer(context.Background(), offer.ID, borrowerID, accept)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			if assert.ErrorIs(t, err, common.ErrorInvalidState) {
				conflict++
			}
		}(i%2 == 0)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 7, conflict)
	assert.Contains(t, []models.DebtStatus{models.DebtAcceptedPendingVideoUpload, models.DebtRejectedByBorrower},
		e.db.debt(t, offer.ID).Status)
}

// activate pushes an accepted debt through evidence approval.
func activate(t *testing.T, e *testEnv) *models.Debt {
	t.Helper()
	d := e.acceptedDebt(t)
	v := e.upload(t, d.ID, []byte("video bytes"))
	_, err := e.evidence.Approve(context.Background(), v.ID, approverID)
	require.NoError(t, err)
	active := e.db.debt(t, d.ID)
	require.Equal(t, models.DebtActive, active.Status)
	return &active
}

func TestMarkDefaulted(t *testing.T) {
	ctx := context.Background()

	t.Run("before due date", func(t *testing.T) {
		e := newTestEnv(t)
		d := activate(t, e)
		_, err := e.debts.MarkDefaulted(ctx, d.ID, lenderID)
		require.ErrorIs(t, err, common.ErrorValidation)

		e.advance(d.DueDateUTC.Sub(e.now()))
		_, err = e.debts.MarkDefaulted(ctx, d.ID, lenderID)
		require.ErrorIs(t, err, common.ErrorValidation, "due date itself is not overdue")
		assert.Equal(t, models.DebtActive, e.db.debt(t, d.ID).Status)
	})

	t.Run("after due date", func(t *testing.T) {
		e := newTestEnv(t)
		d := activate(t, e)
		e.advance(11 * 24 * time.Hour)
		got, err := e.debts.MarkDefaulted(ctx, d.ID, lenderID)
		require.NoError(t, err)
		assert.Equal(t, models.DebtDefaulted, got.Status)

		_, err = e.debts.MarkPaid(ctx, d.ID, lenderID)
		require.ErrorIs(t, err, common.ErrorInvalidState)
	})

	t.Run("only the lender", func(t *testing.T) {
		e := newTestEnv(t)
		d := activate(t, e)
		e.advance(11 * 24 * time.Hour)
		_, err := e.debts.MarkDefaulted(ctx, d.ID, borrowerID)
		require.ErrorIs(t, err, common.ErrorUnauthorized)
	})

	t.Run("not active", func(t *testing.T) {
		e := newTestEnv(t)
		d := e.acceptedDebt(t)
		e.advance(11 * 24 * time.Hour)
		_, err := e.debts.MarkDefaulted(ctx, d.ID, lenderID)
		require.ErrorIs(t, err, common.ErrorInvalidState)
	})
}

func TestMarkPaid(t *testing.T) {
	ctx := context.Background()

	t.Run("active debt", func(t *testing.T) {
		e := newTestEnv(t)
		d := activate(t, e)
		got, err := e.debts.MarkPaid(ctx, d.ID, lenderID)
		require.NoError(t, err)
		assert.Equal(t, models.DebtPaid, got.Status)
		require.NotNil(t, got.PaidAt)
	})

	t.Run("pending debt", func(t *testing.T) {
		e := newTestEnv(t)
		d := e.offer(t)
		_, err := e.debts.MarkPaid(ctx, d.ID, lenderID)
		require.ErrorIs(t, err, common.ErrorInvalidState)
	})

	t.Run("borrower cannot settle", func(t *testing.T) {
		e := newTestEnv(t)
		d := activate(t, e)
		_, err := e.debts.MarkPaid(ctx, d.ID, borrowerID)
		require.ErrorIs(t, err, common.ErrorUnauthorized)
	})
}

func TestReviewDebt(t *testing.T) {
	ctx := context.Background()

	pending := func(t *testing.T) (*testEnv, string) {
		e := newTestEnv(t)
		e.cfg.RequireOperatorApproval = true
		d := e.acceptedDebt(t)
		v := e.upload(t, d.ID, []byte("clip"))
		_, err := e.evidence.Approve(ctx, v.ID, approverID)
		require.NoError(t, err)
		require.Equal(t, models.DebtPendingOperatorApproval, e.db.debt(t, d.ID).Status)
		return e, d.ID
	}

	t.Run("approve", func(t *testing.T) {
		e, id := pending(t)
		got, err := e.debts.ReviewDebt(ctx, id, operatorID, true)
		require.NoError(t, err)
		assert.Equal(t, models.DebtActive, got.Status)
		require.NotNil(t, got.OperatorApprovalAt)
	})

	t.Run("reject", func(t *testing.T) {
		e, id := pending(t)
		got, err := e.debts.ReviewDebt(ctx, id, operatorID, false)
		require.NoError(t, err)
		assert.Equal(t, models.DebtRejectedByOperator, got.Status)
		assert.Nil(t, got.OperatorApprovalAt)
	})

	t.Run("requires operator capability", func(t *testing.T) {
		e, id := pending(t)
		_, err := e.debts.ReviewDebt(ctx, id, approverID, true)
		require.ErrorIs(t, err, common.ErrorUnauthorized)
	})

	t.Run("operator who is a party", func(t *testing.T) {
		e, id := pending(t)
		e.db.users[lenderID].Capabilities[models.CapabilityDebtOperator] = true
		_, err := e.debts.ReviewDebt(ctx, id, lenderID, true)
		require.ErrorIs(t, err, common.ErrorUnauthorized)
	})

	t.Run("wrong state", func(t *testing.T) {
		e := newTestEnv(t)
		d := e.acceptedDebt(t)
		_, err := e.debts.ReviewDebt(ctx, d.ID, operatorID, true)
		require.ErrorIs(t, err, common.ErrorInvalidState)
	})
}

func TestGetAndListDebts(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	d := e.offer(t)

	for _, who := range []string{lenderID, borrowerID, operatorID, auditorID, approverID} {
		got, err := e.debts.GetDebt(ctx, d.ID, who)
		require.NoError(t, err, who)
		assert.Equal(t, d.ID, got.ID)
	}
	_, err := e.debts.GetDebt(ctx, d.ID, strangerID)
	require.ErrorIs(t, err, common.ErrorUnauthorized)

	mine, err := e.debts.ListDebts(ctx, borrowerID)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	none, err := e.debts.ListDebts(ctx, strangerID)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = e.debts.ListDebts(ctx, "")
	require.ErrorIs(t, err, common.ErrorUnauthorized)
}
