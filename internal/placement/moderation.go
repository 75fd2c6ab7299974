package placement

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ApproveAd activates an ad in PENDING_REVIEW that has no open order,
// i.e. a FREE listing. Paid ads are activated by ApprovePayment.
func (s *Service) ApproveAd(ctx context.Context, actor Actor, adID string) (*Ad, error) {
	if err := authorize(actor, CapModerateAd, ""); err != nil {
		return nil, err
	}

	now := s.now()
	var (
		ad    *Ad
		notes []Notification
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		notes = nil
		var err error
		if ad, err = tx.LockAd(ctx, adID); err != nil {
			return err
		}
		if ad.Status != AdPendingReview {
			return invalidState("approval", ad.Status)
		}
		pending, err := tx.HasPendingPayment(ctx, ad.ID)
		if err != nil {
			return fmt.Errorf("pending payment check: %w", err)
		}
		if pending {
			return &Rejection{
				Code:   CodePaymentPending,
				Msg:    "ad has an unpaid order; approve the payment instead",
				Status: string(ad.Status),
			}
		}

		ad.Status = AdActive
		ad.openWindow(now)
		ad.LastJumpedAt = &now
		ad.UpdatedAt = now
		if err := tx.UpdateAd(ctx, ad); err != nil {
			return fmt.Errorf("update ad: %w", err)
		}

		n := newNotification(ad.UserID, ad.ID, NoticeAdApproved, "Listing approved",
			fmt.Sprintf("Your listing %q is now live.", ad.Title), now)
		if err := tx.InsertNotification(ctx, &n); err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
		notes = append(notes, n)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, notes, []statusChange{{AdID: ad.ID, UserID: ad.UserID, From: AdPendingReview, To: AdActive}})
	return ad, nil
}

// RejectAd refuses a pending ad. Open orders for it are cancelled with the
// same reason and a consumed free credit is given back.
func (s *Service) RejectAd(ctx context.Context, actor Actor, adID, reason string) (*Ad, error) {
	if err := authorize(actor, CapModerateAd, ""); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &ValidationError{Msg: "a rejection reason is required"}
	}

	now := s.now()
	var (
		ad    *Ad
		from  AdStatus
		notes []Notification
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		notes = nil
		var err error
		if ad, err = tx.LockAd(ctx, adID); err != nil {
			return err
		}
		from = ad.Status
		if !IsAdTransitionAllowed(from, AdRejected) {
			return invalidState("rejection", from)
		}

		ad.Status = AdRejected
		ad.UpdatedAt = now
		if err := tx.UpdateAd(ctx, ad); err != nil {
			return fmt.Errorf("update ad: %w", err)
		}
		if _, err := tx.CancelPendingPayments(ctx, []string{ad.ID}, "ad rejected: "+reason, now); err != nil {
			return fmt.Errorf("cancel payments: %w", err)
		}
		if ad.IsFree() {
			if err := tx.AddFreeCredits(ctx, ad.UserID, 1); err != nil {
				return fmt.Errorf("restore free credit: %w", err)
			}
		}

		n := newNotification(ad.UserID, ad.ID, NoticeAdRejected, "Listing rejected",
			fmt.Sprintf("Your listing %q was rejected: %s", ad.Title, reason), now)
		if err := tx.InsertNotification(ctx, &n); err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
		notes = append(notes, n)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("ad rejected", zap.String("adId", ad.ID), zap.String("reason", reason))
	s.publish(ctx, notes, []statusChange{{AdID: ad.ID, UserID: ad.UserID, From: from, To: AdRejected}})
	return ad, nil
}

// EditAd changes the content of an ad. Edits of an ACTIVE ad consume the
// edit quota; edits before activation are free.
func (s *Service) EditAd(ctx context.Context, actor Actor, adID string, c Content) (*Ad, error) {
	if err := s.validateContent(c); err != nil {
		return nil, err
	}

	now := s.now()
	var ad *Ad
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if ad, err = tx.LockAd(ctx, adID); err != nil {
			return err
		}
		if err := authorize(actor, CapEditAd, ad.UserID); err != nil {
			return err
		}

		switch {
		case ad.Status == AdActive:
			if ad.EditCount >= ad.MaxEdits {
				return editsExhausted(ad.EditCount, ad.MaxEdits)
			}
			ad.EditCount++
		case ad.Status.IsPending():
		default:
			return invalidState("editing", ad.Status)
		}

		ad.Title = strings.TrimSpace(c.Title)
		ad.Description = c.Description
		ad.UpdatedAt = now
		return tx.UpdateAd(ctx, ad)
	})
	if err != nil {
		return nil, err
	}
	return ad, nil
}
