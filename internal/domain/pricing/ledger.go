package pricing

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/ordesk/promo-engine/internal/domain/rule"
)

// Ledger records confirmed redemptions. All usage counter movement in the
// system funnels through this one entry point, keeping the pricing path
// itself side-effect free. The underlying store performs the increment as a
// single atomic conditional operation, so concurrent checkouts can never
// push a counter past its cap.
type Ledger struct {
	usage rule.UsageStore
}

// NewLedger creates a Ledger over the given usage store.
func NewLedger(usage rule.UsageStore) *Ledger {
	return &Ledger{usage: usage}
}

// RecordRedemption commits one redemption of the rule by the customer.
// Returns rule.ErrUsageLimitReached or rule.ErrCustomerLimitReached when the
// respective cap was exhausted between pricing time and commit time; callers
// must then void the rule's discount and reprice. Any other error is an
// environment failure and retryable.
func (l *Ledger) RecordRedemption(ctx context.Context, ruleID, customerID string) error {
	if err := l.usage.IncrementUsage(ctx, ruleID, customerID); err != nil {
		if errors.Is(err, rule.ErrUsageLimitReached) || errors.Is(err, rule.ErrCustomerLimitReached) {
			return err
		}
		return errors.Wrapf(err, "increment usage for rule %s", ruleID)
	}
	return nil
}
