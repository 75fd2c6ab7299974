package placement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobmate/placement-service/internal/pricing"
)

// CheckoutRequest creates a new ad and, for paid products, its order.
type CheckoutRequest struct {
	Content
	ProductID     string                  `json:"productId"`
	DurationDays  int                     `json:"durationDays"`
	Options       []pricing.OptionRequest `json:"options"`
	PaymentMethod string                  `json:"paymentMethod"`
}

// PurchaseRequest orders an upgrade or a renewal of an existing ad.
type PurchaseRequest struct {
	ProductID     string                  `json:"productId"`
	DurationDays  int                     `json:"durationDays"`
	Options       []pricing.OptionRequest `json:"options"`
	PaymentMethod string                  `json:"paymentMethod"`
}

// CheckoutResult is returned by Checkout, RequestUpgrade and RequestRenew.
type CheckoutResult struct {
	Ad      *Ad           `json:"ad"`
	Payment *Payment      `json:"payment,omitempty"`
	Quote   pricing.Quote `json:"quote"`
}

// Checkout creates an ad in its initial status. Paid products get a PENDING
// payment holding the frozen order; FREE products consume one free credit
// and wait for admin review.
func (s *Service) Checkout(ctx context.Context, actor Actor, req CheckoutRequest) (*CheckoutResult, error) {
	if err := authorize(actor, CapCreateAd, ""); err != nil {
		return nil, err
	}
	if err := s.validateContent(req.Content); err != nil {
		return nil, err
	}
	quote, err := s.Quote(pricing.Request{
		ProductID:    req.ProductID,
		DurationDays: req.DurationDays,
		Options:      req.Options,
		Mode:         pricing.ModeNew,
	})
	if err != nil {
		return nil, err
	}

	method := MethodNone
	if !quote.Free {
		method, err = ParsePaymentMethod(req.PaymentMethod)
		if err != nil {
			return nil, &ValidationError{Msg: err.Error()}
		}
	}

	now := s.now()
	ad := &Ad{
		ID:               uuid.NewString(),
		UserID:           actor.UserID,
		ProductID:        quote.ProductID,
		TierRank:         quote.Rank,
		DurationDays:     quote.DurationDays,
		Title:            strings.TrimSpace(req.Title),
		Description:      req.Description,
		PaymentMethod:    method,
		MaxEdits:         quote.Grants.MaxEdits,
		AutoJumpPerDay:   quote.Grants.AutoJumpPerDay,
		ManualJumpPerDay: quote.Grants.ManualJumpPerDay,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var payment *Payment
	if quote.Free {
		ad.Status = AdPendingReview
	} else {
		ad.Status = method.InitialStatus()
		payment = s.newPayment(ad, method, PlainPurchase{OrderDetails: orderFromQuote(quote)}, now)
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.EnsureUser(ctx, actor.UserID); err != nil {
			return fmt.Errorf("ensure user: %w", err)
		}
		if quote.Free {
			ok, err := tx.ConsumeFreeCredit(ctx, actor.UserID)
			if err != nil {
				return fmt.Errorf("consume free credit: %w", err)
			}
			if !ok {
				return &Rejection{Code: CodeNoFreeCredit, Msg: "no free listing credit left"}
			}
		}
		if err := tx.InsertAd(ctx, ad); err != nil {
			return fmt.Errorf("insert ad: %w", err)
		}
		if payment != nil {
			if err := tx.InsertPayment(ctx, payment); err != nil {
				return fmt.Errorf("insert payment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("ad created",
		zap.String("adId", ad.ID),
		zap.String("product", ad.ProductID),
		zap.String("status", string(ad.Status)))
	return &CheckoutResult{Ad: ad, Payment: payment, Quote: quote}, nil
}

// RequestUpgrade orders a move of an ACTIVE ad to another tier. The ad is
// only changed once the payment is approved.
func (s *Service) RequestUpgrade(ctx context.Context, actor Actor, adID string, req PurchaseRequest) (*CheckoutResult, error) {
	return s.requestPurchase(ctx, actor, adID, req, pricing.ModeUpgrade)
}

// RequestRenew orders the revival of an EXPIRED paid ad.
func (s *Service) RequestRenew(ctx context.Context, actor Actor, adID string, req PurchaseRequest) (*CheckoutResult, error) {
	return s.requestPurchase(ctx, actor, adID, req, pricing.ModeRenew)
}

func (s *Service) requestPurchase(ctx context.Context, actor Actor, adID string, req PurchaseRequest, mode pricing.Mode) (*CheckoutResult, error) {
	method, err := ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}
	if req.ProductID == FreeProductID {
		return nil, &ValidationError{Msg: fmt.Sprintf("cannot %s to the free tier", mode)}
	}

	now := s.now()
	var res *CheckoutResult
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ad, err := tx.LockAd(ctx, adID)
		if err != nil {
			return err
		}
		if err := authorize(actor, CapPurchase, ad.UserID); err != nil {
			return err
		}

		productID := req.ProductID
		switch mode {
		case pricing.ModeUpgrade:
			if ad.Status != AdActive {
				return invalidState("upgrading", ad.Status)
			}
			if productID == ad.ProductID {
				return &ValidationError{Msg: fmt.Sprintf("ad is already on %s", productID)}
			}
			if target, ok := s.Catalog().Product(productID); ok && target.Rank <= ad.TierRank {
				return &Rejection{Code: CodeNotAllowed, Msg: fmt.Sprintf("%s is not above the current tier", productID), Status: string(ad.Status)}
			}
		case pricing.ModeRenew:
			if ad.Status != AdExpired {
				return invalidState("renewing", ad.Status)
			}
			if ad.IsFree() {
				return &Rejection{Code: CodeNotAllowed, Msg: "free listings cannot be renewed"}
			}
			if productID == "" {
				productID = ad.ProductID
			}
		}

		quote, err := s.Quote(pricing.Request{
			ProductID:        productID,
			DurationDays:     req.DurationDays,
			Options:          req.Options,
			Mode:             mode,
			CurrentProductID: ad.ProductID,
		})
		if err != nil {
			return err
		}

		pending, err := tx.HasPendingPayment(ctx, ad.ID)
		if err != nil {
			return fmt.Errorf("pending payment check: %w", err)
		}
		if pending {
			return &Rejection{Code: CodePaymentPending, Msg: "another order for this ad awaits payment", Status: string(ad.Status)}
		}

		order := orderFromQuote(quote)
		var snap ItemSnapshot = Upgrade{OrderDetails: order, FromProductID: ad.ProductID}
		if mode == pricing.ModeRenew {
			snap = Renew{OrderDetails: order, FromProductID: ad.ProductID}
		}
		p := s.newPayment(ad, method, snap, now)
		if err := tx.InsertPayment(ctx, p); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		res = &CheckoutResult{Ad: ad, Payment: p, Quote: quote}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) newPayment(ad *Ad, method PaymentMethod, snap ItemSnapshot, now time.Time) *Payment {
	adID := ad.ID
	return &Payment{
		ID:        uuid.NewString(),
		OrderID:   newOrderID(now),
		UserID:    ad.UserID,
		AdID:      &adID,
		Amount:    snap.Order().Price.Total,
		Method:    method,
		Status:    PaymentPending,
		Snapshot:  snap,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CancelPayment withdraws a PENDING order. Cancelling the order of a new ad
// also cancels the ad; upgrade and renew orders leave the ad untouched.
func (s *Service) CancelPayment(ctx context.Context, actor Actor, paymentID, reason string) (*Payment, error) {
	if reason == "" {
		reason = "cancelled by " + strings.ToLower(string(actor.Role))
	}
	return s.closePayment(ctx, actor, CapCancelPayment, paymentID, PaymentCancelled, reason)
}

// closePayment moves a PENDING payment to CANCELLED or FAILED and cancels
// the pending ad of a plain purchase.
func (s *Service) closePayment(ctx context.Context, actor Actor, c Capability, paymentID string, to PaymentStatus, reason string) (*Payment, error) {
	p0, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, c, p0.UserID); err != nil {
		return nil, err
	}

	now := s.now()
	var (
		p       *Payment
		notes   []Notification
		changes []statusChange
	)
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		notes, changes = nil, nil

		ad, err := lockPaymentAd(ctx, tx, p0)
		if err != nil {
			return err
		}
		if p, err = tx.LockPayment(ctx, paymentID); err != nil {
			return err
		}
		if p.Status != PaymentPending {
			return alreadyProcessed(p)
		}

		p.Status = to
		p.CancelReason = &reason
		p.UpdatedAt = now
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}

		if ad != nil && p.Snapshot.Kind() == SnapshotPurchase && ad.Status.IsPending() {
			from := ad.Status
			ad.Status = AdCancelled
			ad.UpdatedAt = now
			if err := tx.UpdateAd(ctx, ad); err != nil {
				return fmt.Errorf("update ad: %w", err)
			}
			changes = append(changes, statusChange{AdID: ad.ID, UserID: ad.UserID, From: from, To: AdCancelled})
		}

		if to == PaymentFailed && ad != nil {
			n := newNotification(p.UserID, ad.ID, NoticePaymentFailed, "Payment declined",
				fmt.Sprintf("Payment for %q was declined: %s", ad.Title, reason), now)
			if err := tx.InsertNotification(ctx, &n); err != nil {
				return fmt.Errorf("insert notification: %w", err)
			}
			notes = append(notes, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, notes, changes)
	return p, nil
}

// GrantFreeCredits adds n free listing credits to a user.
func (s *Service) GrantFreeCredits(ctx context.Context, actor Actor, userID string, n int) (*UserAccount, error) {
	if err := authorize(actor, CapGrantCredits, userID); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, &ValidationError{Msg: "credits must be positive"}
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.AddFreeCredits(ctx, userID, n)
	})
	if err != nil {
		return nil, fmt.Errorf("grant credits: %w", err)
	}
	return s.store.GetAccount(ctx, userID)
}

// lockPaymentAd locks the ad a payment refers to, if it still exists. It
// must run before LockPayment to keep the ad → payment lock order.
func lockPaymentAd(ctx context.Context, tx Tx, p *Payment) (*Ad, error) {
	if p.AdID == nil {
		return nil, nil
	}
	ad, err := tx.LockAd(ctx, *p.AdID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return ad, err
}
