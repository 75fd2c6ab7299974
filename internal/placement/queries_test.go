package placement_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/placement-service/internal/placement"
)

func TestGetAd_Visibility(t *testing.T) {
	e := newEnv(t)
	e.store.PutAd(activeAd("live", t0))
	pending := activeAd("pending", t0)
	pending.Status = placement.AdPendingReview
	e.store.PutAd(pending)
	ctx := context.Background()

	d, err := e.svc.GetAd(ctx, stranger, "live")
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.ViewCount)

	// the owner's own views are not counted
	_, err = e.svc.GetAd(ctx, owner, "live")
	require.NoError(t, err)
	assert.Equal(t, int64(1), mustAd(t, e.store, "live").ViewCount)

	_, err = e.svc.GetAd(ctx, stranger, "pending")
	assert.ErrorIs(t, err, placement.ErrNotFound)
	_, err = e.svc.GetAd(ctx, owner, "pending")
	assert.NoError(t, err)
	_, err = e.svc.GetAd(ctx, admin, "pending")
	assert.NoError(t, err)
	assert.Zero(t, mustAd(t, e.store, "pending").ViewCount)
}

func TestGetAd_IncludesOptions(t *testing.T) {
	e := newEnv(t)
	res := checkout(t, e, "BANK_TRANSFER")
	_, err := e.svc.ApprovePayment(context.Background(), admin, res.Payment.ID)
	require.NoError(t, err)

	d, err := e.svc.GetAd(context.Background(), stranger, res.Ad.ID)
	require.NoError(t, err)
	assert.Len(t, d.Options, 2)
}

func TestListActiveAds_Ordering(t *testing.T) {
	e := newEnv(t)
	at := func(id string, rank int, jumped time.Duration) {
		ad := activeAd(id, t0.AddDate(0, 0, -1))
		ad.TierRank = rank
		j := t0.Add(-jumped)
		ad.LastJumpedAt = &j
		e.store.PutAd(ad)
	}
	at("vip-old", 4, 3*time.Hour)
	at("special-new", 3, time.Minute)
	at("vip-new", 4, time.Hour)
	at("special-old", 3, 2*time.Hour)
	notYet := activeAd("future", t0.Add(time.Hour))
	e.store.PutAd(notYet)

	ads, err := e.svc.ListActiveAds(context.Background(), 0, 0)
	require.NoError(t, err)
	var ids []string
	for _, a := range ads {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"vip-new", "vip-old", "special-new", "special-old"}, ids)

	page, err := e.svc.ListActiveAds(context.Background(), 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "vip-old", page[0].ID)
}

// A manual jump moves an ad ahead of its tier peers but never above a
// higher tier.
func TestListActiveAds_JumpStaysWithinTier(t *testing.T) {
	e := newEnv(t)
	vip := activeAd("vip", t0.AddDate(0, 0, -1))
	vip.TierRank = 4
	e.store.PutAd(vip)
	e.store.PutAd(activeAd("special-a", t0.AddDate(0, 0, -1)))
	e.store.PutAd(activeAd("special-b", t0.AddDate(0, 0, -2)))

	_, err := e.svc.ManualJump(context.Background(), owner, "special-b")
	require.NoError(t, err)

	ads, err := e.svc.ListActiveAds(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, ads, 3)
	assert.Equal(t, "vip", ads[0].ID)
	assert.Equal(t, "special-b", ads[1].ID)
}

func TestRecordClick(t *testing.T) {
	e := newEnv(t)
	e.store.PutAd(activeAd("live", t0))
	expired := activeAd("gone", t0)
	expired.Status = placement.AdExpired
	e.store.PutAd(expired)
	ctx := context.Background()

	require.NoError(t, e.svc.RecordClick(ctx, "live"))
	assert.Equal(t, int64(1), mustAd(t, e.store, "live").ClickCount)
	assert.ErrorIs(t, e.svc.RecordClick(ctx, "gone"), placement.ErrNotFound)
	assert.ErrorIs(t, e.svc.RecordClick(ctx, "missing"), placement.ErrNotFound)
}

// Counters survive a concurrent state update of the same ad.
func TestCountersSurviveAdUpdates(t *testing.T) {
	e := newEnv(t)
	e.store.PutAd(activeAd("live", t0.AddDate(0, 0, -1)))
	ctx := context.Background()

	require.NoError(t, e.svc.RecordClick(ctx, "live"))
	_, err := e.svc.ManualJump(ctx, owner, "live")
	require.NoError(t, err)
	assert.Equal(t, int64(1), mustAd(t, e.store, "live").ClickCount)
}

func TestGetPaymentAndAccount(t *testing.T) {
	e := newEnv(t)
	e.store.AddUser(owner.UserID, 1)
	res := checkout(t, e, "CARD")
	ctx := context.Background()

	p, err := e.svc.GetPayment(ctx, owner, res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Payment.OrderID, p.OrderID)

	_, err = e.svc.GetPayment(ctx, stranger, res.Payment.ID)
	assert.ErrorIs(t, err, placement.ErrNotFound)

	_, err = e.svc.GetAccount(ctx, stranger, owner.UserID)
	requireRejection(t, err, placement.CodeForbidden)

	acc, err := e.svc.GetAccount(ctx, admin, owner.UserID)
	require.NoError(t, err)
	assert.Equal(t, owner.UserID, acc.ID)
}
