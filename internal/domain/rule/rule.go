// Package rule defines the promotion rule data model: the discount benefit
// variants, eligibility state predicates, and the repository contracts the
// pricing engine depends on.
package rule

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage of the scope base.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary amount capped at the scope base.
	DiscountFixed DiscountType = "fixed"
	// DiscountBuyXGetY grants free units for every complete buy+get group.
	DiscountBuyXGetY DiscountType = "buy_x_get_y"
)

// AppliesTo enumerates the scopes a rule is evaluated against.
type AppliesTo string

const (
	// AppliesOrder evaluates the rule once against the whole order.
	AppliesOrder AppliesTo = "order"
	// AppliesProduct evaluates the rule against each matching line item.
	AppliesProduct AppliesTo = "product"
	// AppliesCategory evaluates the rule against each matching category grouping.
	AppliesCategory AppliesTo = "category"
)

var (
	// ErrNotFound is returned when no rule exists for the given id or code.
	ErrNotFound = errors.New("rule not found")
	// ErrUsageLimitReached is returned by the atomic usage increment when the
	// rule's global redemption cap is exhausted.
	ErrUsageLimitReached = errors.New("rule usage limit reached")
	// ErrCustomerLimitReached is returned by the atomic usage increment when
	// the per-customer redemption cap is exhausted.
	ErrCustomerLimitReached = errors.New("customer usage limit reached")
	// ErrVersionConflict is returned when an update loses an optimistic
	// concurrency race against another writer.
	ErrVersionConflict = errors.New("rule modified concurrently")
	// ErrCodeTaken is returned when creating a rule whose code already exists.
	ErrCodeTaken = errors.New("rule code already exists")
)

// Benefit is the discount payload of a rule. Exactly one concrete variant
// exists per rule, keyed by its DiscountType, so buy/get quantities only
// exist on the BuyXGetY variant.
type Benefit interface {
	Type() DiscountType
}

// Percentage discounts the scope base by Value percent (0 < Value <= 100).
type Percentage struct {
	Value decimal.Decimal
}

func (Percentage) Type() DiscountType { return DiscountPercentage }

// Fixed discounts the scope base by a fixed monetary Value.
type Fixed struct {
	Value decimal.Decimal
}

func (Fixed) Type() DiscountType { return DiscountFixed }

// BuyXGetY grants Get free units for every complete group of Buy+Get units.
type BuyXGetY struct {
	Buy int
	Get int
}

func (BuyXGetY) Type() DiscountType { return DiscountBuyXGetY }

// Rule is a promotional discount rule. Rules are created by administrators,
// mutated only through explicit updates, and deactivated rather than deleted
// once they have ever been redeemed.
type Rule struct {
	ID          string
	Code        string
	Name        string
	Description string

	Benefit   Benefit
	AppliesTo AppliesTo

	// Scope selectors; used only for the matching AppliesTo value.
	ProductIDs  []string
	CategoryIDs []string

	// Audience restriction; empty means all customers.
	CustomerIDs             []string
	CustomerClassifications []string

	// Gating conditions; zero values mean no gate.
	MinOrderAmount decimal.Decimal
	MinQuantity    int

	// MaxDiscountAmount caps one application of the rule; zero means uncapped.
	MaxDiscountAmount decimal.Decimal

	// Validity window, inclusive on both ends; nil means unbounded.
	StartDate *time.Time
	EndDate   *time.Time

	// Usage caps; zero means unlimited. CurrentUsage only moves forward and
	// only on confirmed redemptions, never on a pricing preview.
	UsageLimit       int
	UsagePerCustomer int
	CurrentUsage     int

	// Priority orders conflict resolution, higher first. Seq is the creation
	// sequence number and breaks priority ties (earlier wins).
	Priority int
	Seq      int64

	IsCombinable bool
	IsActive     bool

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsExpired reports whether the rule's end date has passed.
func (r *Rule) IsExpired(now time.Time) bool {
	return r.EndDate != nil && now.After(*r.EndDate)
}

// IsWithinWindow reports whether now falls inside the rule's validity window.
func (r *Rule) IsWithinWindow(now time.Time) bool {
	if r.StartDate != nil && now.Before(*r.StartDate) {
		return false
	}
	return !r.IsExpired(now)
}

// HasUsageRemaining reports whether the rule's global redemption cap still
// has capacity. This is a preview-time check only; the authoritative check
// happens in the atomic increment at commit time.
func (r *Rule) HasUsageRemaining() bool {
	return r.UsageLimit == 0 || r.CurrentUsage < r.UsageLimit
}

// IsEligible reports whether the rule is in a redeemable state: active,
// inside its validity window, and under its usage cap.
func (r *Rule) IsEligible(now time.Time) bool {
	return r.IsActive && r.IsWithinWindow(now) && r.HasUsageRemaining()
}

// AppliesToCustomer reports whether the rule's audience restriction admits
// the given customer. Empty selectors admit everyone.
func (r *Rule) AppliesToCustomer(customerID, classification string) bool {
	if len(r.CustomerIDs) == 0 && len(r.CustomerClassifications) == 0 {
		return true
	}
	for _, id := range r.CustomerIDs {
		if id == customerID {
			return true
		}
	}
	for _, c := range r.CustomerClassifications {
		if c == classification {
			return true
		}
	}
	return false
}

// Repository provides the read operations the pricing engine needs.
type Repository interface {
	// FindByCode looks up a rule by its code, case-insensitively.
	// Returns ErrNotFound when no such rule exists.
	FindByCode(ctx context.Context, code string) (*Rule, error)
	// ListEligible returns the rules that are active, inside their validity
	// window at now, and under their global usage cap, ordered by priority
	// descending then creation sequence ascending.
	ListEligible(ctx context.Context, now time.Time) ([]Rule, error)
}

// UsageStore is the atomic redemption counter primitive. IncrementUsage
// must perform a single conditional increment at the storage layer, never a
// read-then-write pair: concurrent checkouts race on the last redemption of
// a capped rule and only one may win.
type UsageStore interface {
	// IncrementUsage bumps the rule's global counter and the per-customer
	// counter in one atomic step. Returns ErrUsageLimitReached or
	// ErrCustomerLimitReached when the respective cap is exhausted, in which
	// case neither counter moves.
	IncrementUsage(ctx context.Context, ruleID, customerID string) error
}

// ListFilter narrows and orders an administrative rule listing.
type ListFilter struct {
	// Active filters by the activation toggle when non-nil.
	Active *bool
	// Code filters to rules whose code contains the value, case-insensitively.
	Code string
	// WithinWindowAt filters to rules whose validity window contains the
	// given instant when non-nil.
	WithinWindowAt *time.Time

	// SortBy is one of "priority", "code", "created_at", "updated_at";
	// empty defaults to priority. SortDesc reverses the order.
	SortBy   string
	SortDesc bool

	Limit  int
	Offset int
}

// Store is the full persistence contract, including the administrative
// surface that validates and mutates rules.
type Store interface {
	Repository
	UsageStore

	Get(ctx context.Context, id string) (*Rule, error)
	List(ctx context.Context, f ListFilter) (rules []Rule, total int, err error)
	Create(ctx context.Context, r *Rule) error
	// Update persists the rule guarded by its Version; returns
	// ErrVersionConflict when another writer got there first.
	Update(ctx context.Context, r *Rule) error
	SetActive(ctx context.Context, id string, active bool) error
	// Delete removes a rule that has never been redeemed. Rules with
	// redemptions are deactivated instead, preserving the audit trail.
	Delete(ctx context.Context, id string) error
}
