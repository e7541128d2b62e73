package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/ordesk/promo-engine/internal/domain/rule"
)

var hundred = decimal.NewFromInt(100)

// currencyPlaces is the precision monetary amounts are rounded to.
const currencyPlaces = 2

// Amount computes the discount one rule yields against one scope instance.
// The raw amount is rounded half-even to currency precision, then capped by
// the rule's max discount amount, then capped at the scope base so a
// discount can never make a line or order negative. The result is always
// non-negative.
func Amount(r *rule.Rule, s Scope) decimal.Decimal {
	var amount decimal.Decimal
	switch b := r.Benefit.(type) {
	case rule.Percentage:
		amount = s.Base.Mul(b.Value).Div(hundred)
	case rule.Fixed:
		amount = decimal.Min(b.Value, s.Base)
	case rule.BuyXGetY:
		amount = freeUnitsValue(b, s)
	default:
		return decimal.Zero
	}

	amount = amount.RoundBank(currencyPlaces)

	if r.MaxDiscountAmount.IsPositive() {
		amount = decimal.Min(amount, r.MaxDiscountAmount)
	}
	amount = decimal.Min(amount, s.Base)

	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// freeUnitsValue prices the free units of a buy-x-get-y rule: the scope
// quantity is partitioned into complete groups of buy+get units and each
// complete group grants get free units. A trailing partial group contributes
// nothing even when it reaches the buy threshold.
func freeUnitsValue(b rule.BuyXGetY, s Scope) decimal.Decimal {
	free := FreeUnits(s.Quantity, b.Buy, b.Get)
	return s.UnitPrice.Mul(decimal.NewFromInt(int64(free)))
}

// FreeUnits returns floor(quantity / (buy+get)) * get.
func FreeUnits(quantity, buy, get int) int {
	group := buy + get
	if group <= 0 || quantity < group {
		return 0
	}
	return quantity / group * get
}
