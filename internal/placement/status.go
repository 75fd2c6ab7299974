// Package placement defines the ad lifecycle state machine, payment
// reconciliation, the jump scheduler and the housekeeping jobs.
//
// Ad status graph:
//
//	PENDING_DEPOSIT ──┬──► ACTIVE ──► EXPIRED
//	PENDING_REVIEW  ──┘       ▲          │
//	    │                     └──────────┘ (renew)
//	    ├──► REJECTED
//	    └──► CANCELLED
//
// REJECTED and CANCELLED are terminal. EXPIRED is terminal unless a renew
// payment is approved.
package placement

import "fmt"

// AdStatus values are stored verbatim in ads.status.
type AdStatus string

const (
	AdPendingDeposit AdStatus = "PENDING_DEPOSIT"
	AdPendingReview  AdStatus = "PENDING_REVIEW"
	AdActive         AdStatus = "ACTIVE"
	AdExpired        AdStatus = "EXPIRED"
	AdRejected       AdStatus = "REJECTED"
	AdCancelled      AdStatus = "CANCELLED"
)

// validAdTransitions lists every allowed (from → to) pair.
var validAdTransitions = map[AdStatus][]AdStatus{
	AdPendingDeposit: {AdActive, AdRejected, AdCancelled},
	AdPendingReview:  {AdActive, AdRejected, AdCancelled},
	AdActive:         {AdExpired},
	AdExpired:        {AdActive},
	// REJECTED and CANCELLED are terminal
}

// ParseAdStatus converts a raw string to an AdStatus.
func ParseAdStatus(s string) (AdStatus, error) {
	st := AdStatus(s)
	switch st {
	case AdPendingDeposit, AdPendingReview, AdActive, AdExpired, AdRejected, AdCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown ad status %q", s)
}

// IsAdTransitionAllowed returns true when moving from → to is permitted.
func IsAdTransitionAllowed(from, to AdStatus) bool {
	for _, s := range validAdTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsPending reports whether the ad still awaits payment or review.
func (s AdStatus) IsPending() bool {
	return s == AdPendingDeposit || s == AdPendingReview
}

// IsTerminal reports whether no further transition can leave s.
func (s AdStatus) IsTerminal() bool {
	return len(validAdTransitions[s]) == 0
}

// PaymentStatus values are stored verbatim in payments.status.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentApproved  PaymentStatus = "APPROVED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

var validPaymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:  {PaymentApproved, PaymentFailed, PaymentCancelled},
	PaymentApproved: {PaymentRefunded},
}

// ParsePaymentStatus converts a raw string to a PaymentStatus.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	st := PaymentStatus(s)
	switch st {
	case PaymentPending, PaymentApproved, PaymentFailed, PaymentCancelled, PaymentRefunded:
		return st, nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}

// IsPaymentTransitionAllowed returns true when moving from → to is permitted.
func IsPaymentTransitionAllowed(from, to PaymentStatus) bool {
	for _, s := range validPaymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PaymentMethod is how the buyer pays.
type PaymentMethod string

const (
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodCard         PaymentMethod = "CARD"
	MethodWallet       PaymentMethod = "WALLET"
	// MethodNone is used by FREE ads, which have no payment.
	MethodNone PaymentMethod = "NONE"
)

// ParsePaymentMethod converts a raw string to a purchasable PaymentMethod.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(s)
	switch m {
	case MethodBankTransfer, MethodCard, MethodWallet:
		return m, nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

// InitialStatus is the status a new paid ad starts in for method m.
// Bank transfers wait for the deposit; gateway payments are confirmed
// synchronously and only sit in review for the duration of the redirect.
func (m PaymentMethod) InitialStatus() AdStatus {
	if m == MethodBankTransfer {
		return AdPendingDeposit
	}
	return AdPendingReview
}

// JumpType distinguishes user-triggered from scheduled jumps.
type JumpType string

const (
	JumpManual JumpType = "MANUAL"
	JumpAuto   JumpType = "AUTO"
)
