// Package pricing implements the discount pricing pipeline: matching eligible
// rules against an order, computing per-scope discount amounts, resolving
// conflicts between simultaneously applicable rules, and committing
// redemptions after order confirmation.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// LineItem is one line of the order being priced.
type LineItem struct {
	ProductID  string
	CategoryID string
	Quantity   int
	UnitPrice  decimal.Decimal
}

// Total returns quantity times unit price for the line.
func (l LineItem) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// OrderContext is the point-in-time snapshot of an order supplied per pricing
// call. It is never mutated by the engine.
type OrderContext struct {
	CustomerID             string
	CustomerClassification string
	Lines                  []LineItem
}

// Subtotal returns the sum of line totals.
func (o OrderContext) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.Lines {
		sum = sum.Add(l.Total())
	}
	return sum
}

// TotalQuantity returns the sum of line quantities.
func (o OrderContext) TotalQuantity() int {
	total := 0
	for _, l := range o.Lines {
		total += l.Quantity
	}
	return total
}

// ScopeKind identifies what a scope instance covers.
type ScopeKind string

const (
	// ScopeOrder covers the whole order.
	ScopeOrder ScopeKind = "order"
	// ScopeLine covers a single line item.
	ScopeLine ScopeKind = "line"
	// ScopeCategory covers the grouping of lines sharing a category.
	ScopeCategory ScopeKind = "category"
)

// Scope is a concrete scope instance a rule was matched against: the order,
// one line, or one category grouping of lines. Base is the monetary amount
// discounts are computed against; Quantity the unit count the rule's quantity
// conditions see; UnitPrice the price free units are valued at for
// buy-x-get-y rules.
type Scope struct {
	Kind       ScopeKind
	LineIndex  int
	ProductID  string
	CategoryID string

	Base      decimal.Decimal
	Quantity  int
	UnitPrice decimal.Decimal
}

// Key identifies the scope instance for conflict grouping. Two candidates
// with equal keys compete for the same scope.
func (s Scope) Key() string {
	switch s.Kind {
	case ScopeLine:
		return fmt.Sprintf("line:%d", s.LineIndex)
	case ScopeCategory:
		return "category:" + s.CategoryID
	default:
		return "order"
	}
}

// Description renders the scope for audit output.
func (s Scope) Description() string {
	switch s.Kind {
	case ScopeLine:
		return fmt.Sprintf("product %s (line %d)", s.ProductID, s.LineIndex+1)
	case ScopeCategory:
		return "category " + s.CategoryID
	default:
		return "order"
	}
}

// AppliedDiscount is one accepted discount in the pricing result.
type AppliedDiscount struct {
	RuleID   string
	RuleCode string
	Scope    string
	Amount   decimal.Decimal
}

// ExcludedRule records a rule that matched but was rejected by conflict
// resolution, kept for transparency.
type ExcludedRule struct {
	RuleID   string
	RuleCode string
	Scope    string
	Reason   string
}

// PricingResult is the outcome of one pricing call.
type PricingResult struct {
	Applied       []AppliedDiscount
	Excluded      []ExcludedRule
	Subtotal      decimal.Decimal
	TotalDiscount decimal.Decimal
	FinalTotal    decimal.Decimal
}
