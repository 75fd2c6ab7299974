package placement

import (
	"time"

	"jobmate/placement-service/internal/pricing"
)

// FreeProductID is the catalog id of the free tier.
const FreeProductID = "FREE"

// NewUserFreeCredits is the free listing allowance of a new account. It
// matches the users.free_ad_credits column default.
const NewUserFreeCredits = 1

// Ad is a business's job listing together with its placement state.
type Ad struct {
	ID            string        `json:"id"`
	UserID        string        `json:"userId"`
	Status        AdStatus      `json:"status"`
	ProductID     string        `json:"productId"`
	TierRank      int           `json:"tierRank"`
	DurationDays  int           `json:"durationDays"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	StartDate     *time.Time    `json:"startDate"`
	EndDate       *time.Time    `json:"endDate"`
	TotalAmount   int64         `json:"totalAmount"`

	EditCount           int        `json:"editCount"`
	MaxEdits            int        `json:"maxEdits"`
	AutoJumpPerDay      int        `json:"autoJumpPerDay"`
	ManualJumpPerDay    int        `json:"manualJumpPerDay"`
	ManualJumpUsedToday int        `json:"manualJumpUsedToday"`
	LastJumpedAt        *time.Time `json:"lastJumpedAt"`
	LastManualJumpAt    *time.Time `json:"lastManualJumpAt"`

	ViewCount      int64  `json:"viewCount"`
	ClickCount     int64  `json:"clickCount"`
	IsVerified     bool   `json:"isVerified"`
	BusinessNumber string `json:"businessNumber,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsFree reports whether the ad is on the free tier.
func (a *Ad) IsFree() bool { return a.ProductID == FreeProductID }

// applyOrder copies product, duration and grants of an order onto the ad
// and opens a fresh date window starting at now.
func (a *Ad) applyOrder(o OrderDetails, now time.Time) {
	a.ProductID = o.ProductID
	a.TierRank = o.TierRank
	a.DurationDays = o.DurationDays
	a.MaxEdits = o.Grants.MaxEdits
	a.AutoJumpPerDay = o.Grants.AutoJumpPerDay
	a.ManualJumpPerDay = o.Grants.ManualJumpPerDay
	a.openWindow(now)
}

// openWindow sets start/end for an activation at now. FREE ads have no end
// in practice; they get a far end date so the ACTIVE invariant holds.
func (a *Ad) openWindow(now time.Time) {
	start := now
	end := now.AddDate(0, 0, a.DurationDays)
	if a.DurationDays == pricing.Unlimited {
		end = now.AddDate(100, 0, 0)
	}
	a.StartDate = &start
	a.EndDate = &end
}

// Payment is an order snapshot plus its mutable status.
type Payment struct {
	ID           string        `json:"id"`
	OrderID      string        `json:"orderId"`
	UserID       string        `json:"userId"`
	AdID         *string       `json:"adId"`
	Amount       int64         `json:"amount"`
	Method       PaymentMethod `json:"method"`
	Status       PaymentStatus `json:"status"`
	Snapshot     ItemSnapshot  `json:"itemSnapshot"`
	CancelReason *string       `json:"cancelReason,omitempty"`
	PaymentKey   *string       `json:"-"`
	PaidAt       *time.Time    `json:"paidAt"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// AdOption is one priced add-on attached to an ad for a date window.
type AdOption struct {
	ID        string    `json:"id"`
	AdID      string    `json:"adId"`
	OptionID  string    `json:"optionId"`
	Value     string    `json:"value,omitempty"`
	Price     int64     `json:"price"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

// JumpLog is the append-only record of one jump.
type JumpLog struct {
	ID        string    `json:"id"`
	AdID      string    `json:"adId"`
	Type      JumpType  `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

// NotificationKind classifies in-app notifications; de-duplication of
// expiry notices is per (ad, kind).
type NotificationKind string

const (
	NoticeAdApproved     NotificationKind = "AD_APPROVED"
	NoticeAdRejected     NotificationKind = "AD_REJECTED"
	NoticeAdExpired      NotificationKind = "AD_EXPIRED"
	NoticeAdCancelled    NotificationKind = "AD_CANCELLED"
	NoticePaymentDone    NotificationKind = "PAYMENT_APPROVED"
	NoticePaymentFailed  NotificationKind = "PAYMENT_FAILED"
	NoticeExpiresIn3Days NotificationKind = "EXPIRY_D3"
	NoticeExpiresIn1Day  NotificationKind = "EXPIRY_D1"
	NoticeExpiresToday   NotificationKind = "EXPIRY_D0"
)

// Notification is an in-app notification intent. Push and email delivery
// consume the published copy.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	AdID      *string          `json:"adId,omitempty"`
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Link      string           `json:"link"`
	CreatedAt time.Time        `json:"createdAt"`
}

// UserAccount holds the user aggregate fields the placement core mutates.
type UserAccount struct {
	ID              string `json:"id"`
	TotalPaidAdDays int    `json:"totalPaidAdDays"`
	FreeAdCredits   int    `json:"freeAdCredits"`
}

// VerificationStatus is the outcome of a business-registry lookup as stored.
type VerificationStatus string

const (
	VerificationVerified     VerificationStatus = "VERIFIED"
	VerificationRefused      VerificationStatus = "REFUSED"
	VerificationManualReview VerificationStatus = "MANUAL_REVIEW"
)

// BusinessVerification records one verification attempt for an ad.
type BusinessVerification struct {
	AdID           string             `json:"adId"`
	BusinessNumber string             `json:"businessNumber"`
	Status         VerificationStatus `json:"status"`
	RegistryState  string             `json:"registryState,omitempty"`
	CheckedAt      time.Time          `json:"checkedAt"`
}

func adLink(adID string) string { return "/ads/" + adID }
