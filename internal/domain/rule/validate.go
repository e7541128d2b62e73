package rule

import (
	"regexp"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var hundred = decimal.NewFromInt(100)

// Validate checks the structural constraints an administrator-supplied rule
// must satisfy before it may be persisted. The pricing path assumes persisted
// rules are structurally valid and does not re-validate at read time.
func (r *Rule) Validate() error {
	if r.Code == "" || !codePattern.MatchString(r.Code) {
		return errors.Errorf("code %q must match [A-Za-z0-9_-]+", r.Code)
	}
	if r.Name == "" {
		return errors.New("name is required")
	}

	if err := r.validateBenefit(); err != nil {
		return err
	}

	switch r.AppliesTo {
	case AppliesOrder:
	case AppliesProduct:
		if len(r.ProductIDs) == 0 {
			return errors.New("product scope requires at least one product id")
		}
	case AppliesCategory:
		if len(r.CategoryIDs) == 0 {
			return errors.New("category scope requires at least one category id")
		}
	default:
		return errors.Errorf("unknown scope %q", r.AppliesTo)
	}

	if r.MinOrderAmount.IsNegative() {
		return errors.New("min order amount must not be negative")
	}
	if r.MinQuantity < 0 {
		return errors.New("min quantity must not be negative")
	}
	if r.MaxDiscountAmount.IsNegative() {
		return errors.New("max discount amount must not be negative")
	}
	if r.UsageLimit < 0 || r.UsagePerCustomer < 0 {
		return errors.New("usage limits must not be negative")
	}

	if r.StartDate != nil && r.EndDate != nil && r.EndDate.Before(*r.StartDate) {
		return errors.New("end date must not precede start date")
	}

	return nil
}

func (r *Rule) validateBenefit() error {
	switch b := r.Benefit.(type) {
	case Percentage:
		if !b.Value.IsPositive() || b.Value.GreaterThan(hundred) {
			return errors.Errorf("percentage value %s must be in (0, 100]", b.Value)
		}
	case Fixed:
		if !b.Value.IsPositive() {
			return errors.Errorf("fixed value %s must be positive", b.Value)
		}
	case BuyXGetY:
		if b.Buy < 1 || b.Get < 1 {
			return errors.New("buy and get quantities must be positive")
		}
	case nil:
		return errors.New("discount benefit is required")
	default:
		return errors.Errorf("unsupported discount type: %q", b.Type())
	}
	return nil
}

// NewBenefit builds a Benefit from its stored representation: the discount
// type plus the value or buy/get columns. It is the inverse of the mapping
// the storage layer performs when persisting a rule.
func NewBenefit(t DiscountType, value decimal.Decimal, buy, get int) (Benefit, error) {
	switch t {
	case DiscountPercentage:
		return Percentage{Value: value}, nil
	case DiscountFixed:
		return Fixed{Value: value}, nil
	case DiscountBuyXGetY:
		return BuyXGetY{Buy: buy, Get: get}, nil
	default:
		return nil, errors.Errorf("unsupported discount type: %q", t)
	}
}
