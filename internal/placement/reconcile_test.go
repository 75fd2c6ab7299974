package placement_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/placement-service/internal/gateway"
	"jobmate/placement-service/internal/placement"
	"jobmate/placement-service/internal/pricing"
)

func checkout(t *testing.T, e *env, method string) *placement.CheckoutResult {
	t.Helper()
	res, err := e.svc.Checkout(context.Background(), owner, specialOrder(method))
	require.NoError(t, err)
	return res
}

func TestApprovePayment_ActivatesAd(t *testing.T) {
	e := newEnv(t)
	res := checkout(t, e, "BANK_TRANSFER")
	e.clock.Advance(time.Hour)
	approvedAt := t0.Add(time.Hour)

	p, err := e.svc.ApprovePayment(context.Background(), admin, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, placement.PaymentApproved, p.Status)
	require.NotNil(t, p.PaidAt)
	assert.True(t, p.PaidAt.Equal(approvedAt))

	ad := mustAd(t, e.store, res.Ad.ID)
	assert.Equal(t, placement.AdActive, ad.Status)
	require.NotNil(t, ad.StartDate)
	require.NotNil(t, ad.EndDate)
	assert.True(t, ad.StartDate.Equal(approvedAt))
	assert.True(t, ad.EndDate.Equal(approvedAt.AddDate(0, 0, 30)))
	require.NotNil(t, ad.LastJumpedAt)
	assert.True(t, ad.LastJumpedAt.Equal(approvedAt))
	assert.Equal(t, int64(125000), ad.TotalAmount)

	opts := e.store.Options(ad.ID)
	require.Len(t, opts, 2)
	for _, o := range opts {
		assert.True(t, o.StartDate.Equal(*ad.StartDate))
		assert.True(t, o.EndDate.Equal(*ad.EndDate))
	}

	assert.Equal(t, 30, e.store.Account(owner.UserID).TotalPaidAdDays)
	notes := e.store.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, placement.NoticePaymentDone, notes[0].Kind)
	assert.Len(t, e.pub.Messages(placement.ChannelNotification), 1)
	assert.Len(t, e.pub.Messages(placement.ChannelAdStatus), 1)
}

func TestApprovePayment_SecondCallWritesNothing(t *testing.T) {
	e := newEnv(t)
	res := checkout(t, e, "BANK_TRANSFER")
	_, err := e.svc.ApprovePayment(context.Background(), admin, res.Payment.ID)
	require.NoError(t, err)
	before := mustAd(t, e.store, res.Ad.ID)

	_, err = e.svc.ApprovePayment(context.Background(), admin, res.Payment.ID)
	r := requireRejection(t, err, placement.CodeAlreadyProcessed)
	assert.Equal(t, string(placement.PaymentApproved), r.Status)

	assert.Equal(t, before, mustAd(t, e.store, res.Ad.ID))
	assert.Equal(t, 30, e.store.Account(owner.UserID).TotalPaidAdDays)
	assert.Len(t, e.store.Notifications(), 1)
}

func TestApprovePayment_ConcurrentCallsApplyOnce(t *testing.T) {
	e := newEnv(t)
	res := checkout(t, e, "BANK_TRANSFER")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		dups int
	)
	for iter := 0; iter < 8; iter++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.ApprovePayment(context.Background(), admin, res.Payment.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				oks++
			} else if placement.IsRejection(err, placement.CodeAlreadyProcessed) {
				dups++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, oks)
	assert.Equal(t, 7, dups)
	assert.Equal(t, 30, e.store.Account(owner.UserID).TotalPaidAdDays)
	assert.Len(t, e.store.Notifications(), 1)
}

func TestApprovePayment_FailureRollsBackEverything(t *testing.T) {
	for _, step := range []string{"UpdateAd", "ReplaceAdOptions", "AddPaidAdDays", "InsertNotification"} {
		t.Run(step, func(t *testing.T) {
			e := newEnv(t)
			res := checkout(t, e, "BANK_TRANSFER")
			e.store.FailNext(step, errBoom)

			_, err := e.svc.ApprovePayment(context.Background(), admin, res.Payment.ID)
			require.ErrorIs(t, err, errBoom)

			assert.Equal(t, placement.PaymentPending, mustPayment(t, e.store, res.Payment.ID).Status)
			assert.Equal(t, placement.AdPendingDeposit, mustAd(t, e.store, res.Ad.ID).Status)
			assert.Empty(t, e.store.Options(res.Ad.ID))
			assert.Zero(t, e.store.Account(owner.UserID).TotalPaidAdDays)
			assert.Empty(t, e.store.Notifications())
			assert.Empty(t, e.pub.Messages(placement.ChannelAdStatus))

			// the payment is still approvable afterwards
			_, err = e.svc.ApprovePayment(context.Background(), admin, res.Payment.ID)
			require.NoError(t, err)
		})
	}
}

func TestApprovePayment_RequiresAdmin(t *testing.T) {
	e := newEnv(t)
	res := checkout(t, e, "BANK_TRANSFER")
	_, err := e.svc.ApprovePayment(context.Background(), owner, res.Payment.ID)
	requireRejection(t, err, placement.CodeForbidden)
	assert.Equal(t, placement.PaymentPending, mustPayment(t, e.store, res.Payment.ID).Status)
}

func TestApprovePayment_AfterRejection(t *testing.T) {
	e := newEnv(t)
	res := checkout(t, e, "BANK_TRANSFER")
	_, err := e.svc.RejectAd(context.Background(), admin, res.Ad.ID, "spam")
	require.NoError(t, err)
	// rejection cancelled the payment with it
	_, err = e.svc.ApprovePayment(context.Background(), admin, res.Payment.ID)
	requireRejection(t, err, placement.CodeAlreadyProcessed)
}

// Approval applies the order frozen at checkout even after the catalog
// changes.
func TestApprovePayment_UsesSnapshotNotLiveCatalog(t *testing.T) {
	e := newEnv(t)
	res := checkout(t, e, "BANK_TRANSFER")

	cheaper, err := pricing.Parse([]byte(`
line_product: LINE
line_prices: {30: 1, 60: 2, 90: 3}
products:
  - {id: FREE, name: Free, rank: 0, free: true}
  - {id: LINE, name: Line, rank: 1}
  - id: SPECIAL
    name: Special renamed
    rank: 9
    tier_prices: {30: 1, 60: 2, 90: 3}
    grants: {auto_jump_per_day: 99, manual_jump_per_day: 99, max_edits: 99}
`))
	require.NoError(t, err)
	e.svc.SetCatalog(cheaper)

	p, err := e.svc.ApprovePayment(context.Background(), admin, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(125000), p.Amount)

	ad := mustAd(t, e.store, res.Ad.ID)
	assert.Equal(t, 3, ad.TierRank)
	assert.Equal(t, 10, ad.AutoJumpPerDay)
	assert.Equal(t, 5, ad.ManualJumpPerDay)
	assert.Equal(t, 10, ad.MaxEdits)
	assert.Equal(t, int64(125000), ad.TotalAmount)
}

func TestApprovePayment_UpgradeResetsQuotasKeepsStatus(t *testing.T) {
	e := newEnv(t)
	ad := activeAd("ad-1", t0.AddDate(0, 0, -10))
	ad.ProductID, ad.TierRank = "PREMIUM", 2
	ad.TotalAmount = 80000
	ad.EditCount = 4
	ad.ManualJumpUsedToday = 2
	e.store.PutAd(ad)

	res, err := e.svc.RequestUpgrade(context.Background(), owner, "ad-1", placement.PurchaseRequest{
		ProductID: "SPECIAL", DurationDays: 60, PaymentMethod: "CARD",
	})
	require.NoError(t, err)
	_, err = e.svc.ApprovePayment(context.Background(), admin, res.Payment.ID)
	require.NoError(t, err)

	got := mustAd(t, e.store, "ad-1")
	assert.Equal(t, placement.AdActive, got.Status)
	assert.Equal(t, "SPECIAL", got.ProductID)
	assert.Equal(t, 3, got.TierRank)
	assert.Zero(t, got.EditCount)
	assert.Zero(t, got.ManualJumpUsedToday)
	assert.Equal(t, int64(80000+110000), got.TotalAmount)
	assert.True(t, got.EndDate.Equal(t0.AddDate(0, 0, 60)))
	assert.Equal(t, 60, e.store.Account(owner.UserID).TotalPaidAdDays)
	// status did not change, so no status event
	assert.Empty(t, e.pub.Messages(placement.ChannelAdStatus))
}

func TestApprovePayment_RenewReplacesTotal(t *testing.T) {
	e := newEnv(t)
	ad := activeAd("ad-1", t0.AddDate(0, 0, -40))
	ad.Status = placement.AdExpired
	ad.TotalAmount = 500000
	ad.EditCount = 7
	e.store.PutAd(ad)

	res, err := e.svc.RequestRenew(context.Background(), owner, "ad-1", placement.PurchaseRequest{
		DurationDays: 30, PaymentMethod: "BANK_TRANSFER",
	})
	require.NoError(t, err)
	_, err = e.svc.ApprovePayment(context.Background(), admin, res.Payment.ID)
	require.NoError(t, err)

	got := mustAd(t, e.store, "ad-1")
	assert.Equal(t, placement.AdActive, got.Status)
	assert.Equal(t, int64(110000), got.TotalAmount)
	assert.Zero(t, got.EditCount)
	assert.True(t, got.StartDate.Equal(t0))
	assert.True(t, got.LastJumpedAt.Equal(t0))
}

// An upgrade approved after the ad expired is refused and leaves the
// payment pending for an operator.
func TestApprovePayment_UpgradeOfExpiredAd(t *testing.T) {
	e := newEnv(t)
	e.store.PutAd(activeAd("ad-1", t0))
	res, err := e.svc.RequestUpgrade(context.Background(), owner, "ad-1", placement.PurchaseRequest{
		ProductID: "VIP", DurationDays: 30, PaymentMethod: "CARD",
	})
	require.NoError(t, err)

	expired := mustAd(t, e.store, "ad-1")
	expired.Status = placement.AdExpired
	e.store.PutAd(expired)

	_, err = e.svc.ApprovePayment(context.Background(), admin, res.Payment.ID)
	requireRejection(t, err, placement.CodeInvalidState)
	assert.Equal(t, placement.PaymentPending, mustPayment(t, e.store, res.Payment.ID).Status)
}

// ── Gateway confirmation ───────────────────────────────────────────────────

func TestConfirmGatewayPayment_Approved(t *testing.T) {
	e := newEnv(t)
	e.gw.Result = gateway.Result{Approved: true, Method: "CARD"}
	res := checkout(t, e, "CARD")

	p, err := e.svc.ConfirmGatewayPayment(context.Background(), res.Payment.OrderID, "pk_123", res.Payment.Amount)
	require.NoError(t, err)
	assert.Equal(t, placement.PaymentApproved, p.Status)
	require.NotNil(t, p.PaymentKey)
	assert.Equal(t, "pk_123", *mustPayment(t, e.store, p.ID).PaymentKey)
	assert.Equal(t, placement.AdActive, mustAd(t, e.store, res.Ad.ID).Status)
	assert.Equal(t, 1, e.gw.Calls)
}

func TestConfirmGatewayPayment_Declined(t *testing.T) {
	e := newEnv(t)
	e.gw.Result = gateway.Result{Reason: "REJECT_CARD_COMPANY: limit exceeded"}
	res := checkout(t, e, "CARD")

	_, err := e.svc.ConfirmGatewayPayment(context.Background(), res.Payment.OrderID, "pk_123", res.Payment.Amount)
	requireRejection(t, err, placement.CodePaymentDeclined)

	p := mustPayment(t, e.store, res.Payment.ID)
	assert.Equal(t, placement.PaymentFailed, p.Status)
	require.NotNil(t, p.CancelReason)
	assert.Equal(t, "REJECT_CARD_COMPANY: limit exceeded", *p.CancelReason)
	assert.Equal(t, placement.AdCancelled, mustAd(t, e.store, res.Ad.ID).Status)

	notes := e.store.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, placement.NoticePaymentFailed, notes[0].Kind)
}

func TestConfirmGatewayPayment_TransportErrorKeepsPending(t *testing.T) {
	e := newEnv(t)
	e.gw.Err = errBoom
	res := checkout(t, e, "CARD")

	_, err := e.svc.ConfirmGatewayPayment(context.Background(), res.Payment.OrderID, "pk_123", res.Payment.Amount)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, placement.PaymentPending, mustPayment(t, e.store, res.Payment.ID).Status)

	// the callback can be retried
	e.gw.Err = nil
	e.gw.Result = gateway.Result{Approved: true}
	_, err = e.svc.ConfirmGatewayPayment(context.Background(), res.Payment.OrderID, "pk_123", res.Payment.Amount)
	require.NoError(t, err)
}

func TestConfirmGatewayPayment_Guards(t *testing.T) {
	e := newEnv(t)
	card := checkout(t, e, "CARD")
	bank := checkout(t, e, "BANK_TRANSFER")
	ctx := context.Background()

	_, err := e.svc.ConfirmGatewayPayment(ctx, "", "pk", 1)
	requireValidation(t, err)

	_, err = e.svc.ConfirmGatewayPayment(ctx, "AD-unknown", "pk", 1)
	assert.ErrorIs(t, err, placement.ErrNotFound)

	_, err = e.svc.ConfirmGatewayPayment(ctx, card.Payment.OrderID, "pk", card.Payment.Amount-1)
	requireValidation(t, err)

	_, err = e.svc.ConfirmGatewayPayment(ctx, bank.Payment.OrderID, "pk", bank.Payment.Amount)
	requireValidation(t, err)

	assert.Zero(t, e.gw.Calls)
}

// ── Refund ─────────────────────────────────────────────────────────────────

func TestRefundPayment(t *testing.T) {
	e := newEnv(t)
	res := checkout(t, e, "BANK_TRANSFER")
	ctx := context.Background()

	_, err := e.svc.RefundPayment(ctx, admin, res.Payment.ID, "customer request")
	requireRejection(t, err, placement.CodeInvalidState)

	_, err = e.svc.ApprovePayment(ctx, admin, res.Payment.ID)
	require.NoError(t, err)

	_, err = e.svc.RefundPayment(ctx, owner, res.Payment.ID, "customer request")
	requireRejection(t, err, placement.CodeForbidden)
	_, err = e.svc.RefundPayment(ctx, admin, res.Payment.ID, "")
	requireValidation(t, err)

	p, err := e.svc.RefundPayment(ctx, admin, res.Payment.ID, "customer request")
	require.NoError(t, err)
	assert.Equal(t, placement.PaymentRefunded, p.Status)
	// the ledger changes, the ad does not
	assert.Equal(t, placement.AdActive, mustAd(t, e.store, res.Ad.ID).Status)
}
