package placement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const gatewayTimeout = 10 * time.Second

// ApprovePayment applies a PENDING payment to its ad and owner. In one
// transaction it marks the payment APPROVED, applies the frozen order to the
// ad, credits paid days to the owner and records a notification. A second
// call is rejected with ALREADY_PROCESSED and writes nothing.
func (s *Service) ApprovePayment(ctx context.Context, actor Actor, paymentID string) (*Payment, error) {
	if err := authorize(actor, CapApprovePayment, ""); err != nil {
		return nil, err
	}
	return s.approve(ctx, paymentID, nil)
}

func (s *Service) approve(ctx context.Context, paymentID string, paymentKey *string) (*Payment, error) {
	p0, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p0.Status != PaymentPending {
		return nil, alreadyProcessed(p0)
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
		if ad == nil {
			return &Rejection{Code: CodeInvalidState, Msg: "the ad of this payment no longer exists"}
		}

		// 1. payment
		p.Status = PaymentApproved
		p.PaidAt = &now
		p.UpdatedAt = now
		if paymentKey != nil {
			p.PaymentKey = paymentKey
		}
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}

		// 2. ad
		from := ad.Status
		order := p.Snapshot.Order()
		if err := applySnapshot(ad, p, now); err != nil {
			return err
		}
		ad.UpdatedAt = now
		if err := tx.UpdateAd(ctx, ad); err != nil {
			return fmt.Errorf("update ad: %w", err)
		}
		if err := tx.ReplaceAdOptions(ctx, ad.ID, optionsFor(ad, order)); err != nil {
			return fmt.Errorf("replace options: %w", err)
		}
		if from != ad.Status {
			changes = append(changes, statusChange{AdID: ad.ID, UserID: ad.UserID, From: from, To: ad.Status})
		}

		// 3. owner
		if !order.IsFree() {
			if err := tx.AddPaidAdDays(ctx, ad.UserID, order.DurationDays); err != nil {
				return fmt.Errorf("add paid days: %w", err)
			}
		}

		// 4. notification
		n := newNotification(ad.UserID, ad.ID, NoticePaymentDone, "Payment confirmed",
			approvalMessage(p.Snapshot, ad), now)
		if err := tx.InsertNotification(ctx, &n); err != nil {
			return fmt.Errorf("insert notification: %w", err)
		}
		notes = append(notes, n)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.PaymentApproved(string(p.Snapshot.Kind()), p.Amount)
	s.log.Info("payment approved",
		zap.String("orderId", p.OrderID),
		zap.String("kind", string(p.Snapshot.Kind())),
		zap.Int64("amount", p.Amount))
	s.publish(ctx, notes, changes)
	return p, nil
}

// applySnapshot mutates ad according to the payment's frozen order. Only
// snapshot values are used; the live catalog is never consulted.
func applySnapshot(ad *Ad, p *Payment, now time.Time) error {
	order := p.Snapshot.Order()
	switch p.Snapshot.(type) {
	case PlainPurchase:
		if !ad.Status.IsPending() {
			return invalidState("activation", ad.Status)
		}
		ad.applyOrder(order, now)
		ad.Status = AdActive
		ad.LastJumpedAt = &now
		ad.TotalAmount += p.Amount

	case Upgrade:
		if ad.Status != AdActive {
			return invalidState("upgrade", ad.Status)
		}
		ad.applyOrder(order, now)
		ad.EditCount = 0
		ad.ManualJumpUsedToday = 0
		ad.TotalAmount += p.Amount

	case Renew:
		if ad.Status != AdExpired {
			return invalidState("renewal", ad.Status)
		}
		ad.applyOrder(order, now)
		ad.Status = AdActive
		ad.LastJumpedAt = &now
		ad.EditCount = 0
		ad.ManualJumpUsedToday = 0
		ad.TotalAmount = p.Amount

	default:
		return fmt.Errorf("unsupported snapshot %T", p.Snapshot)
	}
	return nil
}

func optionsFor(ad *Ad, order OrderDetails) []AdOption {
	opts := make([]AdOption, 0, len(order.Options))
	for _, o := range order.Options {
		opts = append(opts, AdOption{
			ID:        uuid.NewString(),
			AdID:      ad.ID,
			OptionID:  o.ID,
			Value:     o.Value,
			Price:     o.Price,
			StartDate: *ad.StartDate,
			EndDate:   *ad.EndDate,
		})
	}
	return opts
}

func approvalMessage(snap ItemSnapshot, ad *Ad) string {
	switch snap.(type) {
	case Upgrade:
		return fmt.Sprintf("Your listing %q was upgraded to %s.", ad.Title, snap.Order().ProductName)
	case Renew:
		return fmt.Sprintf("Your listing %q was renewed until %s.", ad.Title, ad.EndDate.Format("2006-01-02"))
	}
	return fmt.Sprintf("Your listing %q is now live.", ad.Title)
}

// ConfirmGatewayPayment handles the card/wallet redirect. The amount must
// match the frozen order. A gateway approval runs ApprovePayment; a decline
// fails the payment; a transport error leaves it PENDING so the callback can
// be retried.
func (s *Service) ConfirmGatewayPayment(ctx context.Context, orderID, paymentKey string, amount int64) (*Payment, error) {
	if orderID == "" || paymentKey == "" {
		return nil, &ValidationError{Msg: "orderId and paymentKey are required"}
	}
	p, err := s.store.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if p.Status != PaymentPending {
		return nil, alreadyProcessed(p)
	}
	if p.Method == MethodBankTransfer {
		return nil, &ValidationError{Msg: "bank transfers are confirmed by an administrator"}
	}
	if amount != p.Amount {
		return nil, &ValidationError{Msg: fmt.Sprintf("amount mismatch: order is %d, got %d", p.Amount, amount)}
	}
	if s.gateway == nil {
		return nil, errors.New("payment gateway is not configured")
	}

	gctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	res, err := s.gateway.Confirm(gctx, paymentKey, orderID, amount)
	if err != nil {
		s.log.Warn("gateway confirm failed", zap.String("orderId", orderID), zap.Error(err))
		return nil, fmt.Errorf("gateway confirm: %w", err)
	}

	if !res.Approved {
		if _, err := s.closePayment(ctx, System, CapCancelPayment, p.ID, PaymentFailed, res.Reason); err != nil {
			return nil, err
		}
		return nil, &Rejection{Code: CodePaymentDeclined, Msg: "payment declined: " + res.Reason, Status: string(PaymentFailed)}
	}

	approved, err := s.approve(ctx, p.ID, &paymentKey)
	if err != nil {
		// the gateway has captured the money; an operator must reconcile
		s.log.Error("captured payment could not be applied",
			zap.String("orderId", orderID), zap.Error(err))
		return nil, err
	}
	return approved, nil
}

// RefundPayment marks an APPROVED payment REFUNDED. The ad is not changed.
func (s *Service) RefundPayment(ctx context.Context, actor Actor, paymentID, reason string) (*Payment, error) {
	if err := authorize(actor, CapRefundPayment, ""); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, &ValidationError{Msg: "a refund reason is required"}
	}

	now := s.now()
	var p *Payment
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if p, err = tx.LockPayment(ctx, paymentID); err != nil {
			return err
		}
		if !IsPaymentTransitionAllowed(p.Status, PaymentRefunded) {
			return &Rejection{
				Code:   CodeInvalidState,
				Msg:    fmt.Sprintf("cannot refund a %s payment", p.Status),
				Status: string(p.Status),
			}
		}
		p.Status = PaymentRefunded
		p.CancelReason = &reason
		p.UpdatedAt = now
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
