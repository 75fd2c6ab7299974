package pricing

import (
	"errors"
	"fmt"
	"slices"
)

// Mode selects how the base LINE price is charged.
type Mode int

const (
	// ModeNew is a first purchase: LINE + tier + options.
	ModeNew Mode = iota
	// ModeUpgrade moves an active ad to another tier. The LINE part is not
	// charged again unless the ad is currently on a free product.
	ModeUpgrade
	// ModeRenew revives an expired ad at full LINE + tier price.
	ModeRenew
)

func (m Mode) String() string {
	switch m {
	case ModeNew:
		return "new"
	case ModeUpgrade:
		return "upgrade"
	case ModeRenew:
		return "renew"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode maps "new", "upgrade" or "renew" to a Mode. Empty means new.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "new":
		return ModeNew, nil
	case "upgrade":
		return ModeUpgrade, nil
	case "renew":
		return ModeRenew, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// OptionRequest selects one add-on and, for color/icon kinds, its value.
type OptionRequest struct {
	ID    string `json:"id"`
	Value string `json:"value,omitempty"`
}

// Request is the input of Quote.
type Request struct {
	ProductID    string
	DurationDays int
	Options      []OptionRequest
	Mode         Mode
	// CurrentProductID is the ad's product before an upgrade.
	CurrentProductID string
}

// Breakdown is the itemised price of an order.
type Breakdown struct {
	Line    int64 `json:"line"`
	Upgrade int64 `json:"upgrade"`
	Options int64 `json:"options"`
	Total   int64 `json:"total"`
}

// OptionLine is one priced add-on of a quote.
type OptionLine struct {
	ID    string `json:"id"`
	Value string `json:"value,omitempty"`
	Price int64  `json:"price"`
}

// Quote is the deterministic result of pricing a Request.
type Quote struct {
	ProductID    string       `json:"productId"`
	ProductName  string       `json:"productName"`
	Rank         int          `json:"rank"`
	Free         bool         `json:"free"`
	DurationDays int          `json:"durationDays"`
	Options      []OptionLine `json:"options"`
	Breakdown    Breakdown    `json:"breakdown"`
	Grants       Grants       `json:"grants"`
}

// Validate checks that req only references known products, options and
// durations. Quote assumes a validated request.
func (c *Catalog) Validate(req Request) error {
	p, ok := c.products[req.ProductID]
	if !ok {
		return fmt.Errorf("unknown product %q", req.ProductID)
	}
	if !p.IsValidDuration(req.DurationDays) {
		if p.Free {
			return fmt.Errorf("product %s only supports unlimited duration", p.ID)
		}
		return fmt.Errorf("invalid duration %d, must be one of %v", req.DurationDays, ValidDurations)
	}
	if req.CurrentProductID != "" {
		cur, ok := c.products[req.CurrentProductID]
		if !ok {
			return fmt.Errorf("unknown current product %q", req.CurrentProductID)
		}
		if req.Mode == ModeUpgrade && p.Rank <= cur.Rank {
			return fmt.Errorf("upgrade from %s must move to a higher tier, %s is not", cur.ID, p.ID)
		}
	}
	if p.Free && len(req.Options) > 0 {
		return errors.New("free listings cannot carry options")
	}

	seen := make(map[string]bool, len(req.Options))
	for _, or := range req.Options {
		o, ok := c.options[or.ID]
		if !ok {
			return fmt.Errorf("unknown option %q", or.ID)
		}
		if seen[or.ID] {
			return fmt.Errorf("option %s selected twice", or.ID)
		}
		seen[or.ID] = true

		switch o.Kind {
		case KindFlag:
			if or.Value != "" {
				return fmt.Errorf("option %s takes no value", or.ID)
			}
		default:
			if !slices.Contains(o.Values, or.Value) {
				return fmt.Errorf("option %s: invalid value %q", or.ID, or.Value)
			}
		}
	}
	return nil
}

// Quote prices a validated request.
func (c *Catalog) Quote(req Request) Quote {
	p := c.products[req.ProductID]
	q := Quote{
		ProductID:    p.ID,
		ProductName:  p.Name,
		Rank:         p.Rank,
		Free:         p.Free,
		DurationDays: req.DurationDays,
		Options:      []OptionLine{},
		Grants:       p.Grants,
	}
	if p.Free {
		return q
	}

	d := req.DurationDays
	if c.chargesLine(req) {
		q.Breakdown.Line = c.LinePrices[d]
	}
	q.Breakdown.Upgrade = p.TierPrices[d]

	for _, or := range req.Options {
		o := c.options[or.ID]
		price := o.Prices[d]
		if o.Kind == KindIcon && p.FreeIcon {
			price = 0
		}
		q.Options = append(q.Options, OptionLine{ID: o.ID, Value: or.Value, Price: price})
		q.Breakdown.Options += price
	}

	q.Breakdown.Total = q.Breakdown.Line + q.Breakdown.Upgrade + q.Breakdown.Options
	return q
}

func (c *Catalog) chargesLine(req Request) bool {
	if req.Mode != ModeUpgrade {
		return true
	}
	cur, ok := c.products[req.CurrentProductID]
	return !ok || cur.Free
}
