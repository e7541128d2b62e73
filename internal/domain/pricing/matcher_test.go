package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordesk/promo-engine/internal/domain/rule"
)

func testOrder() OrderContext {
	return OrderContext{
		CustomerID:             "c1",
		CustomerClassification: "retail",
		Lines: []LineItem{
			{ProductID: "p1", CategoryID: "snacks", Quantity: 2, UnitPrice: d("10.00")},
			{ProductID: "p2", CategoryID: "snacks", Quantity: 1, UnitPrice: d("5.00")},
			{ProductID: "p3", CategoryID: "drinks", Quantity: 4, UnitPrice: d("2.50")},
		},
	}
}

func TestMatchRules_OrderScope(t *testing.T) {
	order := testOrder() // subtotal 35.00, 7 units

	r := rule.Rule{ID: "r1", AppliesTo: rule.AppliesOrder, Benefit: rule.Percentage{Value: d("10")}}
	matches := MatchRules([]*rule.Rule{&r}, order)

	require.Len(t, matches, 1)
	assert.Equal(t, ScopeOrder, matches[0].Scope.Kind)
	assertDecimalEqual(t, d("35.00"), matches[0].Scope.Base)
	assert.Equal(t, 7, matches[0].Scope.Quantity)
}

func TestMatchRules_ProductScope(t *testing.T) {
	order := testOrder()

	r := rule.Rule{
		ID:         "r1",
		AppliesTo:  rule.AppliesProduct,
		ProductIDs: []string{"p1", "p3"},
		Benefit:    rule.Percentage{Value: d("10")},
	}
	matches := MatchRules([]*rule.Rule{&r}, order)

	require.Len(t, matches, 2)
	assert.Equal(t, "p1", matches[0].Scope.ProductID)
	assertDecimalEqual(t, d("20.00"), matches[0].Scope.Base)
	assert.Equal(t, "p3", matches[1].Scope.ProductID)
	assertDecimalEqual(t, d("10.00"), matches[1].Scope.Base)
}

func TestMatchRules_CategoryScopeGroupsLines(t *testing.T) {
	order := testOrder()

	r := rule.Rule{
		ID:          "r1",
		AppliesTo:   rule.AppliesCategory,
		CategoryIDs: []string{"snacks"},
		Benefit:     rule.Percentage{Value: d("10")},
	}
	matches := MatchRules([]*rule.Rule{&r}, order)

	require.Len(t, matches, 1)
	s := matches[0].Scope
	assert.Equal(t, ScopeCategory, s.Kind)
	assert.Equal(t, "snacks", s.CategoryID)
	assertDecimalEqual(t, d("25.00"), s.Base)   // 2x10.00 + 1x5.00
	assert.Equal(t, 3, s.Quantity)              // summed line quantities
	assertDecimalEqual(t, d("5.00"), s.UnitPrice) // lowest unit price in group
}

func TestMatchRules_AudienceFilter(t *testing.T) {
	order := testOrder()

	restricted := rule.Rule{
		ID:          "r1",
		AppliesTo:   rule.AppliesOrder,
		CustomerIDs: []string{"someone-else"},
		Benefit:     rule.Fixed{Value: d("5")},
	}
	assert.Empty(t, MatchRules([]*rule.Rule{&restricted}, order))

	byClass := rule.Rule{
		ID:                      "r2",
		AppliesTo:               rule.AppliesOrder,
		CustomerClassifications: []string{"retail"},
		Benefit:                 rule.Fixed{Value: d("5")},
	}
	assert.Len(t, MatchRules([]*rule.Rule{&byClass}, order), 1)
}

func TestMatchRules_MinOrderAmountGate(t *testing.T) {
	order := OrderContext{
		CustomerID: "c1",
		Lines: []LineItem{
			{ProductID: "p1", CategoryID: "snacks", Quantity: 1, UnitPrice: d("499.99")},
		},
	}

	r := rule.Rule{
		ID:             "r1",
		AppliesTo:      rule.AppliesOrder,
		MinOrderAmount: d("500.00"),
		Benefit:        rule.Percentage{Value: d("10")},
	}
	assert.Empty(t, MatchRules([]*rule.Rule{&r}, order))

	order.Lines[0].UnitPrice = d("500.00")
	assert.Len(t, MatchRules([]*rule.Rule{&r}, order), 1)
}

func TestMatchRules_MinQuantityGate(t *testing.T) {
	order := testOrder()

	// Order scope counts all units.
	orderRule := rule.Rule{
		ID: "r1", AppliesTo: rule.AppliesOrder, MinQuantity: 7,
		Benefit: rule.Fixed{Value: d("1")},
	}
	assert.Len(t, MatchRules([]*rule.Rule{&orderRule}, order), 1)
	orderRule.MinQuantity = 8
	assert.Empty(t, MatchRules([]*rule.Rule{&orderRule}, order))

	// Product scope counts only the line's quantity.
	lineRule := rule.Rule{
		ID: "r2", AppliesTo: rule.AppliesProduct, ProductIDs: []string{"p1"},
		MinQuantity: 3, Benefit: rule.Fixed{Value: d("1")},
	}
	assert.Empty(t, MatchRules([]*rule.Rule{&lineRule}, order))

	// Category scope sums quantities across the grouped lines.
	catRule := rule.Rule{
		ID: "r3", AppliesTo: rule.AppliesCategory, CategoryIDs: []string{"snacks"},
		MinQuantity: 3, Benefit: rule.Fixed{Value: d("1")},
	}
	assert.Len(t, MatchRules([]*rule.Rule{&catRule}, order), 1)
}

func TestMatchRules_BuyXGetYThreshold(t *testing.T) {
	order := testOrder()

	// p1 has quantity 2; a buy-3 rule must not match that line at all.
	r := rule.Rule{
		ID:         "r1",
		AppliesTo:  rule.AppliesProduct,
		ProductIDs: []string{"p1", "p3"},
		Benefit:    rule.BuyXGetY{Buy: 3, Get: 1},
	}
	matches := MatchRules([]*rule.Rule{&r}, order)

	require.Len(t, matches, 1)
	assert.Equal(t, "p3", matches[0].Scope.ProductID) // quantity 4 passes
}

func TestMatchRules_NoSelectorOverlap(t *testing.T) {
	order := testOrder()

	r := rule.Rule{
		ID:         "r1",
		AppliesTo:  rule.AppliesProduct,
		ProductIDs: []string{"p99"},
		Benefit:    rule.Fixed{Value: d("1")},
	}
	assert.Empty(t, MatchRules([]*rule.Rule{&r}, order))
}
