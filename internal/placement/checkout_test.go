package placement_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/placement-service/internal/placement"
	"jobmate/placement-service/internal/pricing"
)

func specialOrder(method string) placement.CheckoutRequest {
	return placement.CheckoutRequest{
		Content:      placement.Content{Title: "  Line cook wanted  ", Description: "Evenings, downtown."},
		ProductID:    "SPECIAL",
		DurationDays: 30,
		Options: []pricing.OptionRequest{
			{ID: "HIGHLIGHT", Value: "mint"},
			{ID: "ICON", Value: "hot"},
		},
		PaymentMethod: method,
	}
}

func TestCheckout_BankTransferWaitsForDeposit(t *testing.T) {
	e := newEnv(t)

	res, err := e.svc.Checkout(context.Background(), owner, specialOrder("BANK_TRANSFER"))
	require.NoError(t, err)

	ad := mustAd(t, e.store, res.Ad.ID)
	assert.Equal(t, placement.AdPendingDeposit, ad.Status)
	assert.Equal(t, "Line cook wanted", ad.Title)
	assert.Nil(t, ad.StartDate)
	assert.Nil(t, ad.LastJumpedAt)

	require.NotNil(t, res.Payment)
	p := mustPayment(t, e.store, res.Payment.ID)
	assert.Equal(t, placement.PaymentPending, p.Status)
	// LINE 50000 + SPECIAL 60000 + HIGHLIGHT 15000, icon free on SPECIAL
	assert.Equal(t, int64(125000), p.Amount)
	assert.Equal(t, res.Quote.Breakdown.Total, p.Amount)
	assert.True(t, strings.HasPrefix(p.OrderID, "AD20260302"), p.OrderID)
	require.NotNil(t, p.AdID)
	assert.Equal(t, ad.ID, *p.AdID)

	snap, ok := p.Snapshot.(placement.PlainPurchase)
	require.True(t, ok, "snapshot is %T", p.Snapshot)
	assert.Equal(t, 10, snap.Grants.AutoJumpPerDay)
	assert.Len(t, snap.Options, 2)
}

func TestCheckout_CardWaitsForReview(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.Checkout(context.Background(), owner, specialOrder("CARD"))
	require.NoError(t, err)
	assert.Equal(t, placement.AdPendingReview, res.Ad.Status)
	assert.Equal(t, placement.MethodCard, res.Payment.Method)
}

func TestCheckout_FreeConsumesCredit(t *testing.T) {
	e := newEnv(t)
	e.store.AddUser(owner.UserID, 1)
	req := placement.CheckoutRequest{
		Content:   placement.Content{Title: "Dishwasher"},
		ProductID: placement.FreeProductID,
	}

	res, err := e.svc.Checkout(context.Background(), owner, req)
	require.NoError(t, err)
	assert.Nil(t, res.Payment)
	assert.Equal(t, placement.AdPendingReview, res.Ad.Status)
	assert.Equal(t, placement.MethodNone, res.Ad.PaymentMethod)
	assert.Equal(t, 0, e.store.Account(owner.UserID).FreeAdCredits)

	_, err = e.svc.Checkout(context.Background(), owner, req)
	requireRejection(t, err, placement.CodeNoFreeCredit)
}

// The first order of a user nobody has seen yet opens their account with
// the starting free credit.
func TestCheckout_NewUserGetsAccount(t *testing.T) {
	e := newEnv(t)
	newcomer := placement.Actor{UserID: "newcomer", Role: placement.RoleUser}
	ctx := context.Background()

	_, err := e.svc.GetAccount(ctx, newcomer, newcomer.UserID)
	require.ErrorIs(t, err, placement.ErrNotFound)

	res, err := e.svc.Checkout(ctx, newcomer, specialOrder("CARD"))
	require.NoError(t, err)
	acc, err := e.svc.GetAccount(ctx, newcomer, newcomer.UserID)
	require.NoError(t, err)
	assert.Equal(t, placement.NewUserFreeCredits, acc.FreeAdCredits)

	// approval credits the paid days to the new account
	_, err = e.svc.ApprovePayment(ctx, admin, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, e.store.Account(newcomer.UserID).TotalPaidAdDays)

	free := placement.CheckoutRequest{Content: placement.Content{Title: "Porter"}, ProductID: placement.FreeProductID}
	_, err = e.svc.Checkout(ctx, newcomer, free)
	require.NoError(t, err)
	_, err = e.svc.Checkout(ctx, newcomer, free)
	requireRejection(t, err, placement.CodeNoFreeCredit)
}

func TestCheckout_ValidationWritesNothing(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*placement.CheckoutRequest)
	}{
		{"empty title", func(r *placement.CheckoutRequest) { r.Title = "   " }},
		{"title too long", func(r *placement.CheckoutRequest) { r.Title = strings.Repeat("가", 101) }},
		{"banned term", func(r *placement.CheckoutRequest) { r.Description = "Great PAY, no VISA needed" }},
		{"unknown product", func(r *placement.CheckoutRequest) { r.ProductID = "GOLD" }},
		{"bad duration", func(r *placement.CheckoutRequest) { r.DurationDays = 45 }},
		{"bad option value", func(r *placement.CheckoutRequest) { r.Options[0].Value = "black" }},
		{"missing method", func(r *placement.CheckoutRequest) { r.PaymentMethod = "" }},
		{"none method", func(r *placement.CheckoutRequest) { r.PaymentMethod = "NONE" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, placement.WithBannedTerms([]string{"no visa"}))
			req := specialOrder("CARD")
			tt.mutate(&req)

			_, err := e.svc.Checkout(context.Background(), owner, req)
			requireValidation(t, err)
			assert.Zero(t, e.store.TxAttempts())
		})
	}
}

func TestCheckout_AnonymousForbidden(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Checkout(context.Background(), placement.Actor{}, specialOrder("CARD"))
	requireRejection(t, err, placement.CodeForbidden)
}

// A conflicting transaction is re-run; the retried attempt must not
// duplicate anything.
func TestCheckout_RetriedTransaction(t *testing.T) {
	e := newEnv(t)
	e.store.AddUser(owner.UserID, 1)
	e.store.InjectConflicts(1)

	_, err := e.svc.Checkout(context.Background(), owner, placement.CheckoutRequest{
		Content:   placement.Content{Title: "Dishwasher"},
		ProductID: placement.FreeProductID,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, e.store.TxAttempts())
	assert.Equal(t, 0, e.store.Account(owner.UserID).FreeAdCredits)
}

// ── Upgrade / renew orders ─────────────────────────────────────────────────

func TestRequestUpgrade(t *testing.T) {
	e := newEnv(t)
	ad := activeAd("ad-1", t0)
	ad.ProductID, ad.TierRank = "PREMIUM", 2
	e.store.PutAd(ad)

	res, err := e.svc.RequestUpgrade(context.Background(), owner, "ad-1", placement.PurchaseRequest{
		ProductID: "SPECIAL", DurationDays: 30, PaymentMethod: "CARD",
	})
	require.NoError(t, err)

	// paid tier to paid tier: the LINE part is not charged again
	assert.Equal(t, int64(60000), res.Payment.Amount)
	up, ok := res.Payment.Snapshot.(placement.Upgrade)
	require.True(t, ok, "snapshot is %T", res.Payment.Snapshot)
	assert.Equal(t, "PREMIUM", up.FromProductID)

	// nothing changes on the ad until approval
	assert.Equal(t, "PREMIUM", mustAd(t, e.store, "ad-1").ProductID)

	_, err = e.svc.RequestUpgrade(context.Background(), owner, "ad-1", placement.PurchaseRequest{
		ProductID: "VIP", DurationDays: 30, PaymentMethod: "CARD",
	})
	requireRejection(t, err, placement.CodePaymentPending)
}

func TestRequestUpgrade_Guards(t *testing.T) {
	e := newEnv(t)
	e.store.PutAd(activeAd("ad-1", t0))
	expired := activeAd("ad-2", t0)
	expired.Status = placement.AdExpired
	e.store.PutAd(expired)
	ctx := context.Background()
	req := placement.PurchaseRequest{ProductID: "VIP", DurationDays: 30, PaymentMethod: "CARD"}

	_, err := e.svc.RequestUpgrade(ctx, stranger, "ad-1", req)
	requireRejection(t, err, placement.CodeForbidden)

	_, err = e.svc.RequestUpgrade(ctx, owner, "ad-2", req)
	requireRejection(t, err, placement.CodeInvalidState)

	_, err = e.svc.RequestUpgrade(ctx, owner, "ad-1", placement.PurchaseRequest{ProductID: "SPECIAL", DurationDays: 30, PaymentMethod: "CARD"})
	requireValidation(t, err)

	_, err = e.svc.RequestUpgrade(ctx, owner, "ad-1", placement.PurchaseRequest{ProductID: "FREE", PaymentMethod: "CARD"})
	requireValidation(t, err)

	// moving down, or sideways, is not an upgrade
	for _, down := range []string{"LINE", "PREMIUM"} {
		_, err = e.svc.RequestUpgrade(ctx, owner, "ad-1", placement.PurchaseRequest{ProductID: down, DurationDays: 90, PaymentMethod: "CARD"})
		requireRejection(t, err, placement.CodeNotAllowed)
	}
	premium := activeAd("ad-3", t0)
	premium.ProductID, premium.TierRank = "PREMIUM", 2
	e.store.PutAd(premium)
	_, err = e.svc.RequestUpgrade(ctx, owner, "ad-3", placement.PurchaseRequest{ProductID: "LINE", DurationDays: 30, PaymentMethod: "CARD"})
	requireRejection(t, err, placement.CodeNotAllowed)

	_, err = e.svc.RequestUpgrade(ctx, owner, "missing", req)
	assert.ErrorIs(t, err, placement.ErrNotFound)
}

func TestRequestRenew(t *testing.T) {
	e := newEnv(t)
	ad := activeAd("ad-1", t0.AddDate(0, 0, -40))
	ad.Status = placement.AdExpired
	e.store.PutAd(ad)

	res, err := e.svc.RequestRenew(context.Background(), owner, "ad-1", placement.PurchaseRequest{
		DurationDays: 30, PaymentMethod: "BANK_TRANSFER",
	})
	require.NoError(t, err)
	// renew charges LINE again: 50000 + 60000
	assert.Equal(t, int64(110000), res.Payment.Amount)
	renew, ok := res.Payment.Snapshot.(placement.Renew)
	require.True(t, ok, "snapshot is %T", res.Payment.Snapshot)
	assert.Equal(t, "SPECIAL", renew.ProductID)
}

func TestRequestRenew_Guards(t *testing.T) {
	e := newEnv(t)
	e.store.PutAd(activeAd("ad-1", t0))
	free := activeAd("ad-2", t0)
	free.Status, free.ProductID = placement.AdExpired, placement.FreeProductID
	e.store.PutAd(free)
	req := placement.PurchaseRequest{DurationDays: 30, PaymentMethod: "CARD"}

	_, err := e.svc.RequestRenew(context.Background(), owner, "ad-1", req)
	requireRejection(t, err, placement.CodeInvalidState)

	_, err = e.svc.RequestRenew(context.Background(), owner, "ad-2", req)
	requireRejection(t, err, placement.CodeNotAllowed)
}

// ── Cancel ─────────────────────────────────────────────────────────────────

func TestCancelPayment_CancelsPendingAd(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.Checkout(context.Background(), owner, specialOrder("BANK_TRANSFER"))
	require.NoError(t, err)

	p, err := e.svc.CancelPayment(context.Background(), owner, res.Payment.ID, "")
	require.NoError(t, err)
	assert.Equal(t, placement.PaymentCancelled, p.Status)
	require.NotNil(t, p.CancelReason)
	assert.Equal(t, "cancelled by user", *p.CancelReason)
	assert.Equal(t, placement.AdCancelled, mustAd(t, e.store, res.Ad.ID).Status)
	assert.Len(t, e.pub.Messages(placement.ChannelAdStatus), 1)

	_, err = e.svc.CancelPayment(context.Background(), owner, res.Payment.ID, "")
	requireRejection(t, err, placement.CodeAlreadyProcessed)
}

func TestCancelPayment_UpgradeLeavesAdActive(t *testing.T) {
	e := newEnv(t)
	e.store.PutAd(activeAd("ad-1", t0))
	res, err := e.svc.RequestUpgrade(context.Background(), owner, "ad-1", placement.PurchaseRequest{
		ProductID: "VIP", DurationDays: 30, PaymentMethod: "CARD",
	})
	require.NoError(t, err)

	_, err = e.svc.CancelPayment(context.Background(), stranger, res.Payment.ID, "")
	requireRejection(t, err, placement.CodeForbidden)

	_, err = e.svc.CancelPayment(context.Background(), admin, res.Payment.ID, "duplicate order")
	require.NoError(t, err)
	assert.Equal(t, placement.AdActive, mustAd(t, e.store, "ad-1").Status)
}

func TestGrantFreeCredits(t *testing.T) {
	e := newEnv(t)
	e.store.AddUser(owner.UserID, 0)

	_, err := e.svc.GrantFreeCredits(context.Background(), owner, owner.UserID, 1)
	requireRejection(t, err, placement.CodeForbidden)

	_, err = e.svc.GrantFreeCredits(context.Background(), admin, owner.UserID, 0)
	requireValidation(t, err)

	acc, err := e.svc.GrantFreeCredits(context.Background(), admin, owner.UserID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, acc.FreeAdCredits)
}
