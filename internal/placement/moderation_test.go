package placement_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/placement-service/internal/placement"
)

func freeListing(t *testing.T, e *env) *placement.Ad {
	t.Helper()
	e.store.AddUser(owner.UserID, 1)
	res, err := e.svc.Checkout(context.Background(), owner, placement.CheckoutRequest{
		Content:   placement.Content{Title: "Dishwasher"},
		ProductID: placement.FreeProductID,
	})
	require.NoError(t, err)
	return res.Ad
}

func TestApproveAd_FreeListing(t *testing.T) {
	e := newEnv(t)
	ad := freeListing(t, e)

	got, err := e.svc.ApproveAd(context.Background(), admin, ad.ID)
	require.NoError(t, err)
	assert.Equal(t, placement.AdActive, got.Status)
	require.NotNil(t, got.StartDate)
	require.NotNil(t, got.EndDate)
	assert.True(t, got.EndDate.After(*got.StartDate))
	assert.True(t, got.LastJumpedAt.Equal(t0))

	notes := e.store.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, placement.NoticeAdApproved, notes[0].Kind)
	assert.Len(t, e.pub.Messages(placement.ChannelAdStatus), 1)
}

func TestApproveAd_Guards(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ad := freeListing(t, e)
	paid := checkout(t, e, "CARD")

	_, err := e.svc.ApproveAd(ctx, owner, ad.ID)
	requireRejection(t, err, placement.CodeForbidden)

	// paid ads go through payment approval
	_, err = e.svc.ApproveAd(ctx, admin, paid.Ad.ID)
	requireRejection(t, err, placement.CodePaymentPending)

	_, err = e.svc.ApproveAd(ctx, admin, ad.ID)
	require.NoError(t, err)
	_, err = e.svc.ApproveAd(ctx, admin, ad.ID)
	requireRejection(t, err, placement.CodeInvalidState)
}

func TestRejectAd_RestoresFreeCredit(t *testing.T) {
	e := newEnv(t)
	ad := freeListing(t, e)
	require.Zero(t, e.store.Account(owner.UserID).FreeAdCredits)

	got, err := e.svc.RejectAd(context.Background(), admin, ad.ID, "  misleading wage  ")
	require.NoError(t, err)
	assert.Equal(t, placement.AdRejected, got.Status)
	assert.Equal(t, 1, e.store.Account(owner.UserID).FreeAdCredits)

	notes := e.store.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, placement.NoticeAdRejected, notes[0].Kind)
	assert.Contains(t, notes[0].Message, "misleading wage")
}

func TestRejectAd_CancelsOpenOrder(t *testing.T) {
	e := newEnv(t)
	res := checkout(t, e, "BANK_TRANSFER")

	_, err := e.svc.RejectAd(context.Background(), admin, res.Ad.ID, "spam")
	require.NoError(t, err)

	p := mustPayment(t, e.store, res.Payment.ID)
	assert.Equal(t, placement.PaymentCancelled, p.Status)
	require.NotNil(t, p.CancelReason)
	assert.Equal(t, "ad rejected: spam", *p.CancelReason)
	assert.Zero(t, e.store.Account(owner.UserID).FreeAdCredits)
}

func TestRejectAd_Guards(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.store.PutAd(activeAd("active", t0))
	ad := freeListing(t, e)

	_, err := e.svc.RejectAd(ctx, admin, ad.ID, " ")
	requireValidation(t, err)

	_, err = e.svc.RejectAd(ctx, owner, ad.ID, "spam")
	requireRejection(t, err, placement.CodeForbidden)

	_, err = e.svc.RejectAd(ctx, admin, "active", "spam")
	requireRejection(t, err, placement.CodeInvalidState)
	assert.Equal(t, placement.AdActive, mustAd(t, e.store, "active").Status)
}

// ── Edit ───────────────────────────────────────────────────────────────────

func TestEditAd_ActiveConsumesQuota(t *testing.T) {
	e := newEnv(t)
	ad := activeAd("ad-1", t0)
	ad.MaxEdits = 2
	e.store.PutAd(ad)
	ctx := context.Background()
	c := placement.Content{Title: "Sous chef wanted", Description: "Full time"}

	for i := 1; i <= 2; i++ {
		got, err := e.svc.EditAd(ctx, owner, "ad-1", c)
		require.NoError(t, err)
		assert.Equal(t, i, got.EditCount)
	}

	_, err := e.svc.EditAd(ctx, owner, "ad-1", placement.Content{Title: "Head chef"})
	r := requireRejection(t, err, placement.CodeQuotaExhausted)
	assert.Equal(t, 2, *r.Used)
	assert.Equal(t, "Sous chef wanted", mustAd(t, e.store, "ad-1").Title)
}

func TestEditAd_PendingIsFree(t *testing.T) {
	e := newEnv(t)
	res := checkout(t, e, "BANK_TRANSFER")

	for iter := 0; iter < 5; iter++ {
		_, err := e.svc.EditAd(context.Background(), owner, res.Ad.ID, placement.Content{Title: "Typo fixed"})
		require.NoError(t, err)
	}
	assert.Zero(t, mustAd(t, e.store, res.Ad.ID).EditCount)
}

func TestEditAd_Guards(t *testing.T) {
	e := newEnv(t, placement.WithBannedTerms([]string{"casino"}))
	ctx := context.Background()
	e.store.PutAd(activeAd("ad-1", t0))
	expired := activeAd("ad-2", t0)
	expired.Status = placement.AdExpired
	e.store.PutAd(expired)

	_, err := e.svc.EditAd(ctx, owner, "ad-1", placement.Content{Title: strings.Repeat("x", 101)})
	requireValidation(t, err)

	_, err = e.svc.EditAd(ctx, owner, "ad-1", placement.Content{Title: "Dealer", Description: "CASINO floor"})
	requireValidation(t, err)

	_, err = e.svc.EditAd(ctx, stranger, "ad-1", placement.Content{Title: "Mine now"})
	requireRejection(t, err, placement.CodeForbidden)

	_, err = e.svc.EditAd(ctx, owner, "ad-2", placement.Content{Title: "Still hiring"})
	requireRejection(t, err, placement.CodeInvalidState)
}

func TestContainsBannedTerm(t *testing.T) {
	banned := []string{"", "Pyramid", "no visa"}
	assert.Equal(t, "Pyramid", placement.ContainsBannedTerm("Join our pyramid", "", banned))
	assert.Equal(t, "no visa", placement.ContainsBannedTerm("Cook", "Sorry, NO VISA", banned))
	assert.Empty(t, placement.ContainsBannedTerm("Cook", "Visa sponsored", banned))
	assert.Empty(t, placement.ContainsBannedTerm("anything", "", nil))
}
