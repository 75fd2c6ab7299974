package placement

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// AdDetail is an ad with its currently attached options.
type AdDetail struct {
	*Ad
	Options []AdOption `json:"options"`
}

// GetAd returns an ad. ACTIVE ads are public and each view by someone other
// than the owner is counted; other ads are visible to the owner and admins
// only.
func (s *Service) GetAd(ctx context.Context, actor Actor, adID string) (*AdDetail, error) {
	ad, err := s.store.GetAd(ctx, adID)
	if err != nil {
		return nil, err
	}
	if ad.Status != AdActive && !Authorize(actor, CapViewAd, ad.UserID).Allowed {
		return nil, ErrNotFound
	}

	if ad.Status == AdActive && actor.UserID != ad.UserID {
		if err := s.store.IncrementViews(ctx, ad.ID); err != nil {
			s.log.Warn("increment views", zap.String("adId", ad.ID), zap.Error(err))
		} else {
			ad.ViewCount++
		}
	}

	opts, err := s.store.ListAdOptions(ctx, ad.ID)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	return &AdDetail{Ad: ad, Options: opts}, nil
}

// ListActiveAds returns the public listing: tier rank first, then most
// recently jumped.
func (s *Service) ListActiveAds(ctx context.Context, limit, offset int) ([]Ad, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	offset = max(offset, 0)
	return s.store.ListActiveAds(ctx, s.now(), limit, offset)
}

// RecordClick counts a click on an ACTIVE ad.
func (s *Service) RecordClick(ctx context.Context, adID string) error {
	ad, err := s.store.GetAd(ctx, adID)
	if err != nil {
		return err
	}
	if ad.Status != AdActive {
		return ErrNotFound
	}
	return s.store.IncrementClicks(ctx, adID)
}

// GetPayment returns a payment to its owner or an admin.
func (s *Service) GetPayment(ctx context.Context, actor Actor, paymentID string) (*Payment, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !Authorize(actor, CapViewPayment, p.UserID).Allowed {
		return nil, ErrNotFound
	}
	return p, nil
}

// GetAccount returns the placement counters of a user.
func (s *Service) GetAccount(ctx context.Context, actor Actor, userID string) (*UserAccount, error) {
	if err := authorize(actor, CapViewAccount, userID); err != nil {
		return nil, err
	}
	return s.store.GetAccount(ctx, userID)
}
