package pricing

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ordesk/promo-engine/internal/domain/rule"
)

// Exclusion reasons recorded for rules rejected by conflict resolution.
const (
	reasonScopeLocked   = "scope locked by higher-priority non-combinable rule"
	reasonBaseExhausted = "scope base exhausted by higher-priority rules"
	reasonZeroAmount    = "computed discount is zero"
)

// Candidate is a priced (rule, scope instance) pair entering conflict
// resolution.
type Candidate struct {
	Rule   *rule.Rule
	Scope  Scope
	Amount decimal.Decimal
}

// Accepted is a candidate that survived conflict resolution. Amount may be
// lower than the candidate's: stacked rules are capped against the scope
// base remaining after higher-priority rules applied.
type Accepted struct {
	Rule   *rule.Rule
	Scope  Scope
	Amount decimal.Decimal
}

// Rejected is a candidate dropped by conflict resolution.
type Rejected struct {
	Rule   *rule.Rule
	Scope  Scope
	Reason string
}

// Resolve decides the final applied set. Per scope instance, candidates are
// ordered by priority descending with creation sequence breaking ties
// (earliest wins), then walked in order: accepting a non-combinable rule
// locks the scope against every later candidate; combinable rules stack
// until the scope base is exhausted. The walk is deterministic for a given
// candidate set.
func Resolve(candidates []Candidate) (applied []Accepted, excluded []Rejected) {
	groups, order := groupByScope(candidates)

	for _, key := range order {
		group := groups[key]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Rule.Priority != group[j].Rule.Priority {
				return group[i].Rule.Priority > group[j].Rule.Priority
			}
			return group[i].Rule.Seq < group[j].Rule.Seq
		})

		locked := false
		remaining := group[0].Scope.Base

		for _, c := range group {
			if locked {
				excluded = append(excluded, Rejected{
					Rule:   c.Rule,
					Scope:  c.Scope,
					Reason: reasonScopeLocked,
				})
				continue
			}

			if !c.Amount.IsPositive() {
				excluded = append(excluded, Rejected{
					Rule:   c.Rule,
					Scope:  c.Scope,
					Reason: reasonZeroAmount,
				})
				continue
			}

			amount := decimal.Min(c.Amount, remaining)
			if !amount.IsPositive() {
				excluded = append(excluded, Rejected{
					Rule:   c.Rule,
					Scope:  c.Scope,
					Reason: reasonBaseExhausted,
				})
				continue
			}

			applied = append(applied, Accepted{
				Rule:   c.Rule,
				Scope:  c.Scope,
				Amount: amount,
			})
			remaining = remaining.Sub(amount)

			if !c.Rule.IsCombinable {
				locked = true
			}
		}
	}
	return applied, excluded
}

// groupByScope buckets candidates by scope key, preserving the order scopes
// were first seen so the result is stable for a given input.
func groupByScope(candidates []Candidate) (map[string][]Candidate, []string) {
	groups := make(map[string][]Candidate)
	var order []string
	for _, c := range candidates {
		key := c.Scope.Key()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}
	return groups, order
}
