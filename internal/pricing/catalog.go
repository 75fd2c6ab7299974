// Package pricing holds the placement catalog: products (tiers), add-on
// options and their per-duration prices, plus the feature grants each
// product carries.
//
// The catalog is static data. A default copy is embedded in the binary and
// can be replaced by a YAML file at startup or on reload.
package pricing

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Durations a paid product can be bought for. FREE products use Unlimited.
var ValidDurations = []int{30, 60, 90}

// Unlimited is the duration of FREE listings.
const Unlimited = 0

// OptionKind tells how an option is parameterised.
type OptionKind string

const (
	KindFlag  OptionKind = "flag"  // no value
	KindColor OptionKind = "color" // value is one of Option.Values
	KindIcon  OptionKind = "icon"  // value is one of Option.Values
)

// Grants are the quotas a product gives an ad while it is active.
type Grants struct {
	AutoJumpPerDay   int `yaml:"auto_jump_per_day" json:"autoJumpPerDay"`
	ManualJumpPerDay int `yaml:"manual_jump_per_day" json:"manualJumpPerDay"`
	MaxEdits         int `yaml:"max_edits" json:"maxEdits"`
}

// Product is a placement tier.
type Product struct {
	ID         string        `yaml:"id"`
	Name       string        `yaml:"name"`
	Rank       int           `yaml:"rank"`
	Free       bool          `yaml:"free"`
	FreeIcon   bool          `yaml:"free_icon"`
	TierPrices map[int]int64 `yaml:"tier_prices"`
	Grants     Grants        `yaml:"grants"`
}

// Option is a priced add-on (bold, highlight colour, icon...).
type Option struct {
	ID     string        `yaml:"id"`
	Name   string        `yaml:"name"`
	Kind   OptionKind    `yaml:"kind"`
	Values []string      `yaml:"values"`
	Prices map[int]int64 `yaml:"prices"`
}

// Catalog is an indexed, validated price table.
type Catalog struct {
	LineProduct string        `yaml:"line_product"`
	LinePrices  map[int]int64 `yaml:"line_prices"`
	Products    []Product     `yaml:"products"`
	Options     []Option      `yaml:"options"`

	products map[string]*Product
	options  map[string]*Option
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog file. An empty path yields the embedded catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and checks a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) index() error {
	c.products = make(map[string]*Product, len(c.Products))
	for i := range c.Products {
		p := &c.Products[i]
		if p.ID == "" {
			return fmt.Errorf("product #%d has no id", i)
		}
		if _, dup := c.products[p.ID]; dup {
			return fmt.Errorf("duplicate product %q", p.ID)
		}
		if p.Free && p.Grants.ManualJumpPerDay > 0 {
			return fmt.Errorf("free product %q cannot grant manual jumps", p.ID)
		}
		if !p.Free && p.ID != c.LineProduct {
			for _, d := range ValidDurations {
				if _, ok := p.TierPrices[d]; !ok {
					return fmt.Errorf("product %q has no price for %d days", p.ID, d)
				}
			}
		}
		c.products[p.ID] = p
	}

	if _, ok := c.products[c.LineProduct]; !ok {
		return fmt.Errorf("line product %q is not defined", c.LineProduct)
	}
	for _, d := range ValidDurations {
		if _, ok := c.LinePrices[d]; !ok {
			return fmt.Errorf("line price missing for %d days", d)
		}
	}

	c.options = make(map[string]*Option, len(c.Options))
	for i := range c.Options {
		o := &c.Options[i]
		if _, dup := c.options[o.ID]; dup {
			return fmt.Errorf("duplicate option %q", o.ID)
		}
		switch o.Kind {
		case KindFlag:
		case KindColor, KindIcon:
			if len(o.Values) == 0 {
				return fmt.Errorf("option %q of kind %s needs values", o.ID, o.Kind)
			}
		default:
			return fmt.Errorf("option %q has unknown kind %q", o.ID, o.Kind)
		}
		for _, d := range ValidDurations {
			if _, ok := o.Prices[d]; !ok {
				return fmt.Errorf("option %q has no price for %d days", o.ID, d)
			}
		}
		c.options[o.ID] = o
	}
	return nil
}

// Product looks up a product by id.
func (c *Catalog) Product(id string) (Product, bool) {
	p, ok := c.products[id]
	if !ok {
		return Product{}, false
	}
	return *p, true
}

// Option looks up an option by id.
func (c *Catalog) Option(id string) (Option, bool) {
	o, ok := c.options[id]
	if !ok {
		return Option{}, false
	}
	return *o, true
}

// IsValidDuration reports whether days is a purchasable duration for p.
func (p Product) IsValidDuration(days int) bool {
	if p.Free {
		return days == Unlimited
	}
	return slices.Contains(ValidDurations, days)
}
