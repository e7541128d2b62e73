package pricing

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ordesk/promo-engine/internal/domain/rule"
)

// Match pairs a rule with one scope instance it applies to.
type Match struct {
	Rule  *rule.Rule
	Scope Scope
}

// MatchRules determines which (rule, scope instance) pairs apply to the
// order. Rules are assumed to already be in an eligible state; this stage
// only evaluates audience, scope, and gating conditions. A rule that fails a
// gate is silently dropped, never an error.
func MatchRules(rules []*rule.Rule, order OrderContext) []Match {
	subtotal := order.Subtotal()

	var matches []Match
	for _, r := range rules {
		if !r.AppliesToCustomer(order.CustomerID, order.CustomerClassification) {
			continue
		}
		for _, s := range expandScopes(r, order) {
			if passesGates(r, s, subtotal, order) {
				matches = append(matches, Match{Rule: r, Scope: s})
			}
		}
	}
	return matches
}

// expandScopes produces the scope instances the rule's AppliesTo selects:
// the order once, each line whose product is in the selector set, or each
// matching category grouping its lines.
func expandScopes(r *rule.Rule, order OrderContext) []Scope {
	switch r.AppliesTo {
	case rule.AppliesOrder:
		return []Scope{orderScope(order)}
	case rule.AppliesProduct:
		return productScopes(r, order)
	case rule.AppliesCategory:
		return categoryScopes(r, order)
	default:
		return nil
	}
}

func orderScope(order OrderContext) Scope {
	// Free units for an order-wide buy-x-get-y are valued at the cheapest
	// unit price in the order.
	return Scope{
		Kind:      ScopeOrder,
		Base:      order.Subtotal(),
		Quantity:  order.TotalQuantity(),
		UnitPrice: lowestUnitPrice(order.Lines),
	}
}

func productScopes(r *rule.Rule, order OrderContext) []Scope {
	selected := toSet(r.ProductIDs)

	var scopes []Scope
	for i, l := range order.Lines {
		if _, ok := selected[l.ProductID]; !ok {
			continue
		}
		scopes = append(scopes, Scope{
			Kind:      ScopeLine,
			LineIndex: i,
			ProductID: l.ProductID,
			Base:      l.Total(),
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}
	return scopes
}

// categoryScopes groups the order's lines by category and emits one scope
// per selected category that has at least one line. Base and quantity are
// summed over the grouped lines; free units are valued at the group's lowest
// unit price.
func categoryScopes(r *rule.Rule, order OrderContext) []Scope {
	selected := toSet(r.CategoryIDs)

	grouped := make(map[string][]LineItem)
	for _, l := range order.Lines {
		if _, ok := selected[l.CategoryID]; ok {
			grouped[l.CategoryID] = append(grouped[l.CategoryID], l)
		}
	}

	categories := make([]string, 0, len(grouped))
	for c := range grouped {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	scopes := make([]Scope, 0, len(grouped))
	for _, c := range categories {
		lines := grouped[c]
		base := decimal.Zero
		qty := 0
		for _, l := range lines {
			base = base.Add(l.Total())
			qty += l.Quantity
		}
		scopes = append(scopes, Scope{
			Kind:       ScopeCategory,
			CategoryID: c,
			Base:       base,
			Quantity:   qty,
			UnitPrice:  lowestUnitPrice(lines),
		})
	}
	return scopes
}

// passesGates applies the rule's minimum-amount and minimum-quantity
// conditions to one scope instance. The order-amount gate always compares
// against the order subtotal; the quantity gate compares against the scope's
// own quantity. Buy-x-get-y rules additionally require the scope quantity to
// reach the buy threshold, so an unmet threshold never partially applies.
func passesGates(r *rule.Rule, s Scope, subtotal decimal.Decimal, order OrderContext) bool {
	if r.MinOrderAmount.IsPositive() && subtotal.LessThan(r.MinOrderAmount) {
		return false
	}

	qty := s.Quantity
	if s.Kind == ScopeOrder {
		qty = order.TotalQuantity()
	}
	if r.MinQuantity > 0 && qty < r.MinQuantity {
		return false
	}

	if b, ok := r.Benefit.(rule.BuyXGetY); ok && s.Quantity < b.Buy {
		return false
	}
	return true
}

func lowestUnitPrice(lines []LineItem) decimal.Decimal {
	if len(lines) == 0 {
		return decimal.Zero
	}
	lowest := lines[0].UnitPrice
	for _, l := range lines[1:] {
		if l.UnitPrice.LessThan(lowest) {
			lowest = l.UnitPrice
		}
	}
	return lowest
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
