package placement

import (
	"context"
	"time"
)

// Store is the persistence boundary of the placement core. The production
// implementation is pgstore; every method must be safe for concurrent use.
type Store interface {
	// InTx runs fn inside one transaction. fn may be re-run on transient
	// infrastructure failures, so it must not leak side effects outside tx.
	// A returned error rolls everything back.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetAd(ctx context.Context, id string) (*Ad, error)
	ListActiveAds(ctx context.Context, now time.Time, limit, offset int) ([]Ad, error)
	ListAdOptions(ctx context.Context, adID string) ([]AdOption, error)
	GetPayment(ctx context.Context, id string) (*Payment, error)
	GetPaymentByOrderID(ctx context.Context, orderID string) (*Payment, error)
	GetAccount(ctx context.Context, userID string) (*UserAccount, error)
	IncrementViews(ctx context.Context, adID string) error
	IncrementClicks(ctx context.Context, adID string) error

	// AutoJumpCandidates lists ACTIVE ads inside their date window with an
	// auto-jump grant, with the number of AUTO jumps since windowStart.
	AutoJumpCandidates(ctx context.Context, windowStart, now time.Time) ([]AutoJumpCandidate, error)
	// AutoJump moves last_jumped_at from expected to now and appends an AUTO
	// jump log, atomically. It reports false when the ad changed meanwhile.
	AutoJump(ctx context.Context, adID string, expected *time.Time, now time.Time) (bool, error)
}

// Tx is the transactional view of the store. Lock* methods take a row lock
// held until commit; callers lock the ad before its payment.
type Tx interface {
	LockAd(ctx context.Context, id string) (*Ad, error)
	LockPayment(ctx context.Context, id string) (*Payment, error)
	InsertAd(ctx context.Context, ad *Ad) error
	UpdateAd(ctx context.Context, ad *Ad) error
	InsertPayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, p *Payment) error
	HasPendingPayment(ctx context.Context, adID string) (bool, error)
	CancelPendingPayments(ctx context.Context, adIDs []string, reason string, now time.Time) (int64, error)
	ReplaceAdOptions(ctx context.Context, adID string, opts []AdOption) error
	InsertJumpLog(ctx context.Context, log JumpLog) error
	// EnsureUser creates the user's account row on first use, with
	// NewUserFreeCredits credits. Existing rows are left alone.
	EnsureUser(ctx context.Context, userID string) error
	AddPaidAdDays(ctx context.Context, userID string, days int) error
	ConsumeFreeCredit(ctx context.Context, userID string) (bool, error)
	AddFreeCredits(ctx context.Context, userID string, n int) error
	InsertNotification(ctx context.Context, n *Notification) error
	SaveVerification(ctx context.Context, v BusinessVerification) error

	// Bulk conditional updates used by the housekeeping jobs.
	ExpireActiveAds(ctx context.Context, now time.Time) ([]AdRef, error)
	CancelOverdueDeposits(ctx context.Context, createdBefore, now time.Time) ([]AdRef, error)
	ResetDailyJumps(ctx context.Context, now time.Time) (int64, error)
	InsertExpiryNotices(ctx context.Context, spec NoticeSpec) ([]Notification, error)
}

// AdRef identifies an ad touched by a bulk update.
type AdRef struct {
	ID     string
	UserID string
	Title  string
}

// AutoJumpCandidate is an ad considered by the auto-jump batch.
type AutoJumpCandidate struct {
	AdID           string
	AutoJumpPerDay int
	LastJumpedAt   *time.Time
	JumpsInWindow  int
}

// NoticeSpec describes one expiry-notice batch: every ACTIVE ad whose
// end_date lies in (EndAfter, EndBefore] and that has no notification of
// Kind since DedupSince gets one.
type NoticeSpec struct {
	Kind       NotificationKind
	Title      string
	Format     string // %s is replaced by the ad title
	EndAfter   time.Time
	EndBefore  time.Time
	DedupSince time.Time
	Now        time.Time
}
