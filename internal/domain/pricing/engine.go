package pricing

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/ordesk/promo-engine/internal/domain/rule"
)

// CodeReason classifies why a manually entered code was rejected.
type CodeReason string

const (
	// ReasonNotFound means no rule exists for the code.
	ReasonNotFound CodeReason = "not_found"
	// ReasonInactive means the rule's activation toggle is off.
	ReasonInactive CodeReason = "inactive"
	// ReasonExpired means the rule's end date has passed.
	ReasonExpired CodeReason = "expired"
	// ReasonNotValid means the rule is outside its window without being
	// expired, or the order does not satisfy its conditions.
	ReasonNotValid CodeReason = "not_valid"
	// ReasonUsageLimitReached means the rule's global cap is exhausted.
	ReasonUsageLimitReached CodeReason = "usage_limit_reached"
)

// CodeValidation is the outcome of validating a manually entered code.
type CodeValidation struct {
	Valid  bool
	Reason CodeReason
	Rule   *rule.Rule
	Amount decimal.Decimal
}

// Engine orchestrates the pricing pipeline over a rule repository. Pricing
// calls are pure computation over a point-in-time rule snapshot: they take
// no locks, mutate nothing, and the same snapshot and order always yield the
// same result.
type Engine struct {
	rules  rule.Repository
	ledger *Ledger
	now    func() time.Time
}

// NewEngine creates an Engine over the given repository and ledger.
func NewEngine(rules rule.Repository, ledger *Ledger) *Engine {
	return &Engine{rules: rules, ledger: ledger, now: time.Now}
}

// WithClock overrides the engine's clock for deterministic evaluation.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// ApplyDiscounts prices the order against every eligible rule: match, price,
// resolve, aggregate. It is read-only and never touches usage counters.
func (e *Engine) ApplyDiscounts(ctx context.Context, order OrderContext) (*PricingResult, error) {
	now := e.now()

	loaded, err := e.rules.ListEligible(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "list eligible rules")
	}

	// The repository filters, but a cached snapshot can be slightly stale;
	// re-check eligibility against the engine clock.
	eligible := make([]*rule.Rule, 0, len(loaded))
	for i := range loaded {
		if loaded[i].IsEligible(now) {
			eligible = append(eligible, &loaded[i])
		}
	}

	matches := MatchRules(eligible, order)
	candidates := make([]Candidate, len(matches))
	for i, m := range matches {
		candidates[i] = Candidate{
			Rule:   m.Rule,
			Scope:  m.Scope,
			Amount: Amount(m.Rule, m.Scope),
		}
	}

	applied, excluded := Resolve(candidates)
	return buildResult(order, applied, excluded), nil
}

// ValidateCode checks one manually entered code against the order. An
// ineligible rule yields the most specific rejection reason rather than an
// error; environment failures are the only error path.
func (e *Engine) ValidateCode(ctx context.Context, code string, order OrderContext) (*CodeValidation, error) {
	r, err := e.rules.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, rule.ErrNotFound) {
			return &CodeValidation{Reason: ReasonNotFound}, nil
		}
		return nil, errors.Wrapf(err, "find rule by code %q", code)
	}

	now := e.now()
	switch {
	case !r.IsActive:
		return &CodeValidation{Reason: ReasonInactive, Rule: r}, nil
	case r.IsExpired(now):
		return &CodeValidation{Reason: ReasonExpired, Rule: r}, nil
	case !r.IsWithinWindow(now):
		return &CodeValidation{Reason: ReasonNotValid, Rule: r}, nil
	case !r.HasUsageRemaining():
		return &CodeValidation{Reason: ReasonUsageLimitReached, Rule: r}, nil
	}

	matches := MatchRules([]*rule.Rule{r}, order)
	if len(matches) == 0 {
		return &CodeValidation{Reason: ReasonNotValid, Rule: r}, nil
	}

	amount := decimal.Zero
	for _, m := range matches {
		amount = amount.Add(Amount(m.Rule, m.Scope))
	}
	return &CodeValidation{Valid: true, Rule: r, Amount: amount}, nil
}

// CommitRedemptions records one redemption per rule present in the confirmed
// result. When a rule's atomic increment loses the race against a concurrent
// checkout its discounts are voided and the totals recomputed; the order
// proceeds at the adjusted price. Environment failures abort the commit so
// the order is never confirmed under-priced.
func (e *Engine) CommitRedemptions(ctx context.Context, res *PricingResult, customerID string) (*PricingResult, []AppliedDiscount, error) {
	voidedRules := make(map[string]bool)
	seen := make(map[string]bool)

	for _, a := range res.Applied {
		if seen[a.RuleID] {
			continue
		}
		seen[a.RuleID] = true

		err := e.ledger.RecordRedemption(ctx, a.RuleID, customerID)
		switch {
		case err == nil:
		case errors.Is(err, rule.ErrUsageLimitReached), errors.Is(err, rule.ErrCustomerLimitReached):
			voidedRules[a.RuleID] = true
		default:
			return nil, nil, errors.Wrapf(err, "record redemption for rule %s", a.RuleID)
		}
	}

	if len(voidedRules) == 0 {
		return res, nil, nil
	}

	adjusted := &PricingResult{
		Subtotal: res.Subtotal,
		Excluded: res.Excluded,
	}
	var voided []AppliedDiscount
	for _, a := range res.Applied {
		if voidedRules[a.RuleID] {
			voided = append(voided, a)
			adjusted.Excluded = append(adjusted.Excluded, ExcludedRule{
				RuleID:   a.RuleID,
				RuleCode: a.RuleCode,
				Scope:    a.Scope,
				Reason:   "usage limit reached at commit time",
			})
			continue
		}
		adjusted.Applied = append(adjusted.Applied, a)
		adjusted.TotalDiscount = adjusted.TotalDiscount.Add(a.Amount)
	}
	adjusted.FinalTotal = finalTotal(adjusted.Subtotal, adjusted.TotalDiscount)

	return adjusted, voided, nil
}

func buildResult(order OrderContext, applied []Accepted, excluded []Rejected) *PricingResult {
	res := &PricingResult{Subtotal: order.Subtotal()}

	for _, a := range applied {
		res.Applied = append(res.Applied, AppliedDiscount{
			RuleID:   a.Rule.ID,
			RuleCode: a.Rule.Code,
			Scope:    a.Scope.Description(),
			Amount:   a.Amount,
		})
		res.TotalDiscount = res.TotalDiscount.Add(a.Amount)
	}
	for _, x := range excluded {
		res.Excluded = append(res.Excluded, ExcludedRule{
			RuleID:   x.Rule.ID,
			RuleCode: x.Rule.Code,
			Scope:    x.Scope.Description(),
			Reason:   x.Reason,
		})
	}

	res.FinalTotal = finalTotal(res.Subtotal, res.TotalDiscount)
	return res
}

// finalTotal subtracts the discount from the subtotal, floored at zero and
// rounded to currency precision.
func finalTotal(subtotal, discount decimal.Decimal) decimal.Decimal {
	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return total.RoundBank(currencyPlaces)
}
