package services

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/dmitrijs2005/debtkeeper/internal/server/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEvidenceLifecycle walks one debt from offer to a redeemed default,
// with a rejected first upload along the way.
func TestEvidenceLifecycle(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	offer, err := e.debts.CreateOffer(ctx, lenderID, OfferInput{
		BorrowerRef:  "borrower@example.com",
		Amount:       decimal.NewFromInt(500),
		CurrencyCode: "USD",
		DueDateUTC:   e.now().AddDate(0, 0, 10),
		Description:  "rent advance",
	})
	require.NoError(t, err)
	require.Equal(t, models.DebtPendingBorrowerAcceptance, offer.Status)

	accepted, err := e.debts.RespondToOffer(ctx, offer.ID, borrowerID, true)
	require.NoError(t, err)
	require.Equal(t, models.DebtAcceptedPendingVideoUpload, accepted.Status)

	v1 := e.upload(t, offer.ID, []byte("first take"))
	rejected, err := e.evidence.Reject(ctx, v1.ID, approverID)
	require.NoError(t, err)
	require.Equal(t, models.VideoRejected, rejected.Status)

	e.advance(time.Hour)
	v2 := e.upload(t, offer.ID, []byte("second take"))
	encrypted, err := e.evidence.Approve(ctx, v2.ID, approverID)
	require.NoError(t, err)

	assert.Equal(t, models.VideoEncrypted, encrypted.Status)
	require.True(t, encrypted.Readable())
	assert.NotEqual(t, v1.StoredFileName, v2.StoredFileName)

	// v1 never reached encryption, so it holds no material to collide with
	first := e.db.video(t, v1.ID)
	assert.Nil(t, first.KeyHash)
	assert.Nil(t, first.Salt)
	assert.Nil(t, first.IV)
	assert.Nil(t, first.EncryptedPath)
	assert.NotEqual(t, *encrypted.Salt, *encrypted.IV)

	active := e.db.debt(t, offer.ID)
	assert.Equal(t, models.DebtActive, active.Status)

	sent := e.notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, v2.ID, sent[0].VideoID)
	assert.Equal(t, "USD", sent[0].Currency)

	e.advance(10 * 24 * time.Hour)
	defaulted, err := e.debts.MarkDefaulted(ctx, offer.ID, lenderID)
	require.NoError(t, err)
	assert.Equal(t, models.DebtDefaulted, defaulted.Status)

	s, err := e.evidence.StreamEvidence(ctx, v2.ID, lenderID, sent[0].Key)
	require.NoError(t, err)
	assert.Equal(t, "second take", readStream(t, s))
}

// TestEvidenceLifecycle_FreshMaterialPerRun checks that every encryption run
// draws its own key, salt and IV, including a retry of the same video.
func TestEvidenceLifecycle_FreshMaterialPerRun(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	type triple struct{ key, salt, iv string }
	var runs []triple

	origEnc := encryptStream
	encryptStream = func(src io.Reader, dst io.Writer, key, salt, iv string) error {
		runs = append(runs, triple{key, salt, iv})
		if len(runs) == 1 {
			return errors.New("disk full")
		}
		return origEnc(src, dst, key, salt, iv)
	}
	t.Cleanup(func() { encryptStream = origEnc })

	v := e.upload(t, e.acceptedDebt(t).ID, []byte("clip"))
	_, err := e.evidence.Approve(ctx, v.ID, approverID)
	require.Error(t, err)
	got, err := e.evidence.RetryEncryption(ctx, v.ID, approverID)
	require.NoError(t, err)

	require.Len(t, runs, 2)
	assert.NotEqual(t, runs[0].key, runs[1].key)
	assert.NotEqual(t, runs[0].salt, runs[1].salt)
	assert.NotEqual(t, runs[0].iv, runs[1].iv)
	assert.Equal(t, runs[1].salt, *got.Salt)
	assert.Equal(t, runs[1].iv, *got.IV)
}
