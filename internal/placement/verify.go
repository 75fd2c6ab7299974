package placement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"jobmate/placement-service/internal/registry"
)

const registryTimeout = 5 * time.Second

// NormalizeBusinessNumber strips separators and checks for ten digits.
func NormalizeBusinessNumber(s string) (string, error) {
	n := strings.NewReplacer("-", "", " ", "").Replace(s)
	if len(n) != 10 {
		return "", fmt.Errorf("business number must have 10 digits")
	}
	for _, r := range n {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("business number must have 10 digits")
		}
	}
	return n, nil
}

// VerifyBusiness checks the owner's business number against the registry.
// An ACTIVE registration grants the verified badge. SUSPENDED, CLOSED and
// unknown numbers are refused. When the registry cannot be reached the
// attempt is queued for manual review and no error is returned.
func (s *Service) VerifyBusiness(ctx context.Context, actor Actor, adID, businessNumber string) (*BusinessVerification, error) {
	bizNo, err := NormalizeBusinessNumber(businessNumber)
	if err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}
	ad, err := s.store.GetAd(ctx, adID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, CapVerifyBusiness, ad.UserID); err != nil {
		return nil, err
	}
	if ad.Status.IsTerminal() {
		return nil, invalidState("verification", ad.Status)
	}

	v := BusinessVerification{AdID: ad.ID, BusinessNumber: bizNo, CheckedAt: s.now()}
	state, lookupErr := s.lookupBusiness(ctx, bizNo)
	switch {
	case lookupErr != nil:
		s.log.Warn("registry lookup failed, queued for manual review",
			zap.String("adId", ad.ID), zap.Error(lookupErr))
		v.Status = VerificationManualReview
	case state == registry.StateActive:
		v.Status = VerificationVerified
	default:
		v.Status = VerificationRefused
	}
	v.RegistryState = string(state)

	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if v.Status == VerificationVerified {
			locked, err := tx.LockAd(ctx, ad.ID)
			if err != nil {
				return err
			}
			locked.IsVerified = true
			locked.BusinessNumber = bizNo
			locked.UpdatedAt = v.CheckedAt
			if err := tx.UpdateAd(ctx, locked); err != nil {
				return fmt.Errorf("update ad: %w", err)
			}
		}
		return tx.SaveVerification(ctx, v)
	})
	if err != nil {
		return nil, err
	}

	if v.Status == VerificationRefused {
		return nil, &ValidationError{Msg: fmt.Sprintf("business registration is %s", strings.ToLower(string(state)))}
	}
	return &v, nil
}

func (s *Service) lookupBusiness(ctx context.Context, bizNo string) (registry.State, error) {
	if s.registry == nil {
		return "", fmt.Errorf("registry is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, registryTimeout)
	defer cancel()
	return s.registry.Lookup(ctx, bizNo)
}
