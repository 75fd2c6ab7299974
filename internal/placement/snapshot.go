package placement

import (
	"encoding/json"
	"fmt"

	"jobmate/placement-service/internal/pricing"
)

// SnapshotKind is the discriminant of an item snapshot.
type SnapshotKind string

const (
	SnapshotPurchase SnapshotKind = "purchase"
	SnapshotUpgrade  SnapshotKind = "upgrade"
	SnapshotRenew    SnapshotKind = "renew"
)

// OrderDetails is the priced order frozen at checkout. Approval applies
// these values; it never consults the live catalog.
type OrderDetails struct {
	ProductID    string               `json:"productId"`
	ProductName  string               `json:"productName"`
	TierRank     int                  `json:"tierRank"`
	DurationDays int                  `json:"durationDays"`
	Options      []pricing.OptionLine `json:"options"`
	Price        pricing.Breakdown    `json:"price"`
	Grants       pricing.Grants       `json:"grants"`
}

// IsFree reports whether the order is for the free tier.
func (o OrderDetails) IsFree() bool { return o.ProductID == FreeProductID }

// ItemSnapshot is one of PlainPurchase, Upgrade or Renew.
type ItemSnapshot interface {
	Kind() SnapshotKind
	Order() OrderDetails
	isItemSnapshot()
}

// PlainPurchase activates a newly created ad.
type PlainPurchase struct {
	OrderDetails
}

// Upgrade moves an active ad to another tier.
type Upgrade struct {
	OrderDetails
	FromProductID string
}

// Renew revives an expired ad.
type Renew struct {
	OrderDetails
	FromProductID string
}

func (PlainPurchase) Kind() SnapshotKind { return SnapshotPurchase }
func (Upgrade) Kind() SnapshotKind       { return SnapshotUpgrade }
func (Renew) Kind() SnapshotKind         { return SnapshotRenew }

func (s PlainPurchase) Order() OrderDetails { return s.OrderDetails }
func (s Upgrade) Order() OrderDetails       { return s.OrderDetails }
func (s Renew) Order() OrderDetails         { return s.OrderDetails }

func (PlainPurchase) isItemSnapshot() {}
func (Upgrade) isItemSnapshot()       {}
func (Renew) isItemSnapshot()         {}

func (s PlainPurchase) MarshalJSON() ([]byte, error) { return MarshalSnapshot(s) }
func (s Upgrade) MarshalJSON() ([]byte, error)       { return MarshalSnapshot(s) }
func (s Renew) MarshalJSON() ([]byte, error)         { return MarshalSnapshot(s) }

// snapshotWire is the persisted jsonb layout.
type snapshotWire struct {
	Type SnapshotKind `json:"type"`
	OrderDetails
	FromProductID string `json:"fromProductId,omitempty"`
}

// MarshalSnapshot encodes s with its "type" discriminant.
func MarshalSnapshot(s ItemSnapshot) ([]byte, error) {
	w := snapshotWire{Type: s.Kind(), OrderDetails: s.Order()}
	switch v := s.(type) {
	case Upgrade:
		w.FromProductID = v.FromProductID
	case Renew:
		w.FromProductID = v.FromProductID
	}
	return json.Marshal(w)
}

// UnmarshalSnapshot decodes a persisted snapshot.
func UnmarshalSnapshot(data []byte) (ItemSnapshot, error) {
	var w snapshotWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("item snapshot: %w", err)
	}
	switch w.Type {
	case SnapshotPurchase:
		return PlainPurchase{OrderDetails: w.OrderDetails}, nil
	case SnapshotUpgrade:
		return Upgrade{OrderDetails: w.OrderDetails, FromProductID: w.FromProductID}, nil
	case SnapshotRenew:
		return Renew{OrderDetails: w.OrderDetails, FromProductID: w.FromProductID}, nil
	}
	return nil, fmt.Errorf("item snapshot: unknown type %q", w.Type)
}

func orderFromQuote(q pricing.Quote) OrderDetails {
	opts := make([]pricing.OptionLine, len(q.Options))
	copy(opts, q.Options)
	return OrderDetails{
		ProductID:    q.ProductID,
		ProductName:  q.ProductName,
		TierRank:     q.Rank,
		DurationDays: q.DurationDays,
		Options:      opts,
		Price:        q.Breakdown,
		Grants:       q.Grants,
	}
}
