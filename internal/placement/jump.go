package placement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const manualJumpCooldown = 30 * time.Minute

// JumpResult reports a successful manual jump and the remaining quota.
type JumpResult struct {
	AdID          string    `json:"adId"`
	JumpedAt      time.Time `json:"jumpedAt"`
	UsedToday     int       `json:"usedToday"`
	Limit         int       `json:"limit"`
	NextAvailable time.Time `json:"nextAvailable"`
}

// ManualJump moves an ad to the top of the recency ordering. The ad row is
// locked for the whole check-and-update, so concurrent jumps on one ad are
// serialized and the daily quota can never be exceeded.
func (s *Service) ManualJump(ctx context.Context, actor Actor, adID string) (*JumpResult, error) {
	var res *JumpResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ad, err := tx.LockAd(ctx, adID)
		if err != nil {
			return err
		}
		if err := authorize(actor, CapJumpAd, ad.UserID); err != nil {
			return err
		}

		// read under the lock so timestamps are monotonic per ad
		now := s.now()
		if err := checkManualJump(ad, now); err != nil {
			return err
		}

		ad.LastJumpedAt = &now
		ad.LastManualJumpAt = &now
		ad.ManualJumpUsedToday++
		ad.UpdatedAt = now
		if err := tx.UpdateAd(ctx, ad); err != nil {
			return fmt.Errorf("update ad: %w", err)
		}
		if err := tx.InsertJumpLog(ctx, JumpLog{
			ID:        uuid.NewString(),
			AdID:      ad.ID,
			Type:      JumpManual,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("insert jump log: %w", err)
		}

		res = &JumpResult{
			AdID:          ad.ID,
			JumpedAt:      now,
			UsedToday:     ad.ManualJumpUsedToday,
			Limit:         ad.ManualJumpPerDay,
			NextAvailable: now.Add(manualJumpCooldown),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Jump(string(JumpManual))
	return res, nil
}

// checkManualJump applies the manual jump guards in order: status, tier,
// grant, quota, cooldown. The cooldown compares exact timestamps.
func checkManualJump(ad *Ad, now time.Time) error {
	if ad.Status != AdActive {
		return invalidState("jumping", ad.Status)
	}
	if ad.IsFree() || ad.ManualJumpPerDay <= 0 {
		return &Rejection{Code: CodeNotAllowed, Msg: "this tier has no manual jumps"}
	}
	if ad.ManualJumpUsedToday >= ad.ManualJumpPerDay {
		return quotaExhausted(ad.ManualJumpUsedToday, ad.ManualJumpPerDay)
	}
	if ad.LastManualJumpAt != nil {
		next := ad.LastManualJumpAt.Add(manualJumpCooldown)
		if now.Before(next) {
			return cooldownActive(next, now)
		}
	}
	return nil
}
