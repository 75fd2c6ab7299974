package placementtest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobmate/placement-service/internal/placement"
)

// tx works on a private copy of the store state. The store mutex is held
// by InTx for the transaction's lifetime.
type tx struct {
	s  *Store
	st *state
}

func (t *tx) LockAd(_ context.Context, id string) (*placement.Ad, error) {
	if err := t.s.fail("LockAd"); err != nil {
		return nil, err
	}
	a, ok := t.st.ads[id]
	if !ok {
		return nil, placement.ErrNotFound
	}
	return &a, nil
}

func (t *tx) LockPayment(_ context.Context, id string) (*placement.Payment, error) {
	if err := t.s.fail("LockPayment"); err != nil {
		return nil, err
	}
	p, ok := t.st.payments[id]
	if !ok {
		return nil, placement.ErrNotFound
	}
	return &p, nil
}

func (t *tx) InsertAd(_ context.Context, a *placement.Ad) error {
	if err := t.s.fail("InsertAd"); err != nil {
		return err
	}
	if _, ok := t.st.users[a.UserID]; !ok {
		return fmt.Errorf("%w: user %q", placement.ErrNotFound, a.UserID)
	}
	t.st.ads[a.ID] = *a
	return nil
}

func (t *tx) UpdateAd(_ context.Context, a *placement.Ad) error {
	if err := t.s.fail("UpdateAd"); err != nil {
		return err
	}
	cur, ok := t.st.ads[a.ID]
	if !ok {
		return placement.ErrNotFound
	}
	next := *a
	next.ViewCount, next.ClickCount = cur.ViewCount, cur.ClickCount
	t.st.ads[a.ID] = next
	return nil
}

func (t *tx) InsertPayment(_ context.Context, p *placement.Payment) error {
	if err := t.s.fail("InsertPayment"); err != nil {
		return err
	}
	t.st.payments[p.ID] = *p
	return nil
}

func (t *tx) UpdatePayment(_ context.Context, p *placement.Payment) error {
	if err := t.s.fail("UpdatePayment"); err != nil {
		return err
	}
	cur, ok := t.st.payments[p.ID]
	if !ok {
		return placement.ErrNotFound
	}
	cur.Status = p.Status
	cur.CancelReason = p.CancelReason
	cur.PaymentKey = p.PaymentKey
	cur.PaidAt = p.PaidAt
	cur.UpdatedAt = p.UpdatedAt
	t.st.payments[p.ID] = cur
	return nil
}

func (t *tx) HasPendingPayment(_ context.Context, adID string) (bool, error) {
	for _, p := range t.st.payments {
		if p.AdID != nil && *p.AdID == adID && p.Status == placement.PaymentPending {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) CancelPendingPayments(_ context.Context, adIDs []string, reason string, now time.Time) (int64, error) {
	if err := t.s.fail("CancelPendingPayments"); err != nil {
		return 0, err
	}
	var n int64
	for id, p := range t.st.payments {
		if p.AdID == nil || p.Status != placement.PaymentPending || !slices.Contains(adIDs, *p.AdID) {
			continue
		}
		r := reason
		p.Status = placement.PaymentCancelled
		p.CancelReason = &r
		p.UpdatedAt = now
		t.st.payments[id] = p
		n++
	}
	return n, nil
}

func (t *tx) ReplaceAdOptions(_ context.Context, adID string, opts []placement.AdOption) error {
	if err := t.s.fail("ReplaceAdOptions"); err != nil {
		return err
	}
	t.st.options[adID] = slices.Clone(opts)
	return nil
}

func (t *tx) InsertJumpLog(_ context.Context, l placement.JumpLog) error {
	if err := t.s.fail("InsertJumpLog"); err != nil {
		return err
	}
	t.st.jumps = append(t.st.jumps, l)
	return nil
}

func (t *tx) EnsureUser(_ context.Context, userID string) error {
	if err := t.s.fail("EnsureUser"); err != nil {
		return err
	}
	if _, ok := t.st.users[userID]; !ok {
		t.st.users[userID] = placement.UserAccount{ID: userID, FreeAdCredits: placement.NewUserFreeCredits}
	}
	return nil
}

func (t *tx) AddPaidAdDays(_ context.Context, userID string, days int) error {
	if err := t.s.fail("AddPaidAdDays"); err != nil {
		return err
	}
	u, ok := t.st.users[userID]
	if !ok {
		return placement.ErrNotFound
	}
	u.TotalPaidAdDays += days
	t.st.users[userID] = u
	return nil
}

func (t *tx) ConsumeFreeCredit(_ context.Context, userID string) (bool, error) {
	u, ok := t.st.users[userID]
	if !ok || u.FreeAdCredits <= 0 {
		return false, nil
	}
	u.FreeAdCredits--
	t.st.users[userID] = u
	return true, nil
}

func (t *tx) AddFreeCredits(_ context.Context, userID string, n int) error {
	u, ok := t.st.users[userID]
	if !ok {
		return placement.ErrNotFound
	}
	u.FreeAdCredits += n
	t.st.users[userID] = u
	return nil
}

func (t *tx) InsertNotification(_ context.Context, n *placement.Notification) error {
	if err := t.s.fail("InsertNotification"); err != nil {
		return err
	}
	t.st.notes = append(t.st.notes, *n)
	return nil
}

func (t *tx) SaveVerification(_ context.Context, v placement.BusinessVerification) error {
	t.st.verifications = append(t.st.verifications, v)
	return nil
}

// sortedAds returns the ads of the working copy ordered by id.
func (t *tx) sortedAds() []placement.Ad {
	ads := make([]placement.Ad, 0, len(t.st.ads))
	for _, a := range t.st.ads {
		ads = append(ads, a)
	}
	slices.SortFunc(ads, func(a, b placement.Ad) int { return strings.Compare(a.ID, b.ID) })
	return ads
}

func (t *tx) ExpireActiveAds(_ context.Context, now time.Time) ([]placement.AdRef, error) {
	if err := t.s.fail("ExpireActiveAds"); err != nil {
		return nil, err
	}
	var refs []placement.AdRef
	for _, a := range t.sortedAds() {
		if a.Status != placement.AdActive || a.EndDate == nil || !a.EndDate.Before(now) {
			continue
		}
		a.Status = placement.AdExpired
		a.UpdatedAt = now
		t.st.ads[a.ID] = a
		refs = append(refs, placement.AdRef{ID: a.ID, UserID: a.UserID, Title: a.Title})
	}
	return refs, nil
}

func (t *tx) CancelOverdueDeposits(_ context.Context, createdBefore, now time.Time) ([]placement.AdRef, error) {
	if err := t.s.fail("CancelOverdueDeposits"); err != nil {
		return nil, err
	}
	var refs []placement.AdRef
	for _, a := range t.sortedAds() {
		if a.Status != placement.AdPendingDeposit || !a.CreatedAt.Before(createdBefore) {
			continue
		}
		a.Status = placement.AdCancelled
		a.UpdatedAt = now
		t.st.ads[a.ID] = a
		refs = append(refs, placement.AdRef{ID: a.ID, UserID: a.UserID, Title: a.Title})
	}
	return refs, nil
}

func (t *tx) ResetDailyJumps(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, a := range t.st.ads {
		if a.ManualJumpUsedToday == 0 {
			continue
		}
		a.ManualJumpUsedToday = 0
		a.UpdatedAt = now
		t.st.ads[id] = a
		n++
	}
	return n, nil
}

func (t *tx) InsertExpiryNotices(_ context.Context, spec placement.NoticeSpec) ([]placement.Notification, error) {
	if err := t.s.fail("InsertExpiryNotices"); err != nil {
		return nil, err
	}
	var sent []placement.Notification
	for _, a := range t.sortedAds() {
		if a.Status != placement.AdActive || a.EndDate == nil ||
			!a.EndDate.After(spec.EndAfter) || a.EndDate.After(spec.EndBefore) {
			continue
		}
		if t.notifiedSince(a.ID, spec.Kind, spec.DedupSince) {
			continue
		}
		adID := a.ID
		n := placement.Notification{
			ID:        uuid.NewString(),
			UserID:    a.UserID,
			AdID:      &adID,
			Kind:      spec.Kind,
			Title:     spec.Title,
			Message:   strings.ReplaceAll(spec.Format, "%s", `"`+a.Title+`"`),
			Link:      "/ads/" + a.ID,
			CreatedAt: spec.Now,
		}
		t.st.notes = append(t.st.notes, n)
		sent = append(sent, n)
	}
	return sent, nil
}

func (t *tx) notifiedSince(adID string, kind placement.NotificationKind, since time.Time) bool {
	for _, n := range t.st.notes {
		if n.AdID != nil && *n.AdID == adID && n.Kind == kind && !n.CreatedAt.Before(since) {
			return true
		}
	}
	return false
}
