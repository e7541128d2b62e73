package pricing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordesk/promo-engine/internal/domain/rule"
)

// --- Mock implementations ---

type mockRuleRepo struct {
	rules   []rule.Rule
	listErr error
	findErr error
}

func (m *mockRuleRepo) FindByCode(_ context.Context, code string) (*rule.Rule, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	for i := range m.rules {
		if strings.EqualFold(m.rules[i].Code, code) {
			return &m.rules[i], nil
		}
	}
	return nil, rule.ErrNotFound
}

func (m *mockRuleRepo) ListEligible(_ context.Context, now time.Time) ([]rule.Rule, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []rule.Rule
	for _, r := range m.rules {
		if r.IsEligible(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockUsageStore struct {
	counts     map[string]int
	limitFor   map[string]error
	increments []string
}

func (m *mockUsageStore) IncrementUsage(_ context.Context, ruleID, customerID string) error {
	if err, ok := m.limitFor[ruleID]; ok {
		return err
	}
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[ruleID]++
	m.increments = append(m.increments, ruleID+":"+customerID)
	return nil
}

func newTestEngine(repo *mockRuleRepo, usage *mockUsageStore, now time.Time) *Engine {
	return NewEngine(repo, NewLedger(usage)).WithClock(func() time.Time { return now })
}

var testNow = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

func orderRule(id, code string, b rule.Benefit) rule.Rule {
	return rule.Rule{
		ID: id, Code: code, Name: code,
		Benefit:      b,
		AppliesTo:    rule.AppliesOrder,
		IsCombinable: true,
		IsActive:     true,
	}
}

// --- Tests ---

func TestApplyDiscounts_GateNotMet(t *testing.T) {
	r := orderRule("r1", "SUMMER2025", rule.Percentage{Value: d("10")})
	r.MinOrderAmount = d("500.00")
	repo := &mockRuleRepo{rules: []rule.Rule{r}}
	eng := newTestEngine(repo, &mockUsageStore{}, testNow)

	res, err := eng.ApplyDiscounts(context.Background(), OrderContext{
		CustomerID: "c1",
		Lines:      []LineItem{{ProductID: "p1", Quantity: 1, UnitPrice: d("499.99")}},
	})

	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	assertDecimalEqual(t, decimal.Zero, res.TotalDiscount)
	assertDecimalEqual(t, d("499.99"), res.FinalTotal)
}

func TestApplyDiscounts_PercentageOnOrder(t *testing.T) {
	r := orderRule("r1", "SUMMER2025", rule.Percentage{Value: d("10")})
	r.MinOrderAmount = d("500.00")
	repo := &mockRuleRepo{rules: []rule.Rule{r}}
	eng := newTestEngine(repo, &mockUsageStore{}, testNow)

	res, err := eng.ApplyDiscounts(context.Background(), OrderContext{
		CustomerID: "c1",
		Lines:      []LineItem{{ProductID: "p1", Quantity: 1, UnitPrice: d("1000.00")}},
	})

	require.NoError(t, err)
	require.Len(t, res.Applied, 1)
	assertDecimalEqual(t, d("100.00"), res.TotalDiscount)
	assertDecimalEqual(t, d("900.00"), res.FinalTotal)
}

func TestApplyDiscounts_BuyXGetYOnProduct(t *testing.T) {
	r := rule.Rule{
		ID: "r1", Code: "B3G1", Name: "B3G1",
		Benefit:      rule.BuyXGetY{Buy: 3, Get: 1},
		AppliesTo:    rule.AppliesProduct,
		ProductIDs:   []string{"p1"},
		IsCombinable: true,
		IsActive:     true,
	}
	repo := &mockRuleRepo{rules: []rule.Rule{r}}
	eng := newTestEngine(repo, &mockUsageStore{}, testNow)

	res, err := eng.ApplyDiscounts(context.Background(), OrderContext{
		CustomerID: "c1",
		Lines:      []LineItem{{ProductID: "p1", Quantity: 7, UnitPrice: d("20.00")}},
	})

	require.NoError(t, err)
	require.Len(t, res.Applied, 1)
	assertDecimalEqual(t, d("20.00"), res.Applied[0].Amount)
	assertDecimalEqual(t, d("120.00"), res.FinalTotal)
}

func TestApplyDiscounts_ConflictBetweenRules(t *testing.T) {
	a := orderRule("a", "RULEA", rule.Fixed{Value: d("50.00")})
	a.Priority = 10
	a.IsCombinable = false
	a.Seq = 1
	b := orderRule("b", "RULEB", rule.Fixed{Value: d("30.00")})
	b.Priority = 5
	b.Seq = 2

	repo := &mockRuleRepo{rules: []rule.Rule{a, b}}
	eng := newTestEngine(repo, &mockUsageStore{}, testNow)

	res, err := eng.ApplyDiscounts(context.Background(), OrderContext{
		CustomerID: "c1",
		Lines:      []LineItem{{ProductID: "p1", Quantity: 1, UnitPrice: d("200.00")}},
	})

	require.NoError(t, err)
	require.Len(t, res.Applied, 1)
	assert.Equal(t, "a", res.Applied[0].RuleID)
	require.Len(t, res.Excluded, 1)
	assert.Equal(t, "b", res.Excluded[0].RuleID)
	assert.Contains(t, res.Excluded[0].Reason, "scope locked")
}

func TestApplyDiscounts_SkipsIneligibleRules(t *testing.T) {
	inactive := orderRule("r1", "OFF", rule.Fixed{Value: d("5")})
	inactive.IsActive = false
	exhausted := orderRule("r2", "GONE", rule.Fixed{Value: d("5")})
	exhausted.UsageLimit = 1
	exhausted.CurrentUsage = 1

	repo := &mockRuleRepo{rules: []rule.Rule{inactive, exhausted}}
	eng := newTestEngine(repo, &mockUsageStore{}, testNow)

	res, err := eng.ApplyDiscounts(context.Background(), OrderContext{
		CustomerID: "c1",
		Lines:      []LineItem{{ProductID: "p1", Quantity: 1, UnitPrice: d("100.00")}},
	})

	require.NoError(t, err)
	assert.Empty(t, res.Applied)
}

func TestApplyDiscounts_IsPureAndRepeatable(t *testing.T) {
	a := orderRule("a", "TEN", rule.Percentage{Value: d("10")})
	b := orderRule("b", "FIVE", rule.Fixed{Value: d("5.00")})
	usage := &mockUsageStore{}
	repo := &mockRuleRepo{rules: []rule.Rule{a, b}}
	eng := newTestEngine(repo, usage, testNow)

	order := OrderContext{
		CustomerID: "c1",
		Lines:      []LineItem{{ProductID: "p1", Quantity: 2, UnitPrice: d("25.00")}},
	}

	first, err := eng.ApplyDiscounts(context.Background(), order)
	require.NoError(t, err)
	for range 5 {
		again, err := eng.ApplyDiscounts(context.Background(), order)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	// Pricing previews never touch usage counters.
	assert.Empty(t, usage.increments)
}

func TestApplyDiscounts_RepositoryError(t *testing.T) {
	repo := &mockRuleRepo{listErr: errors.New("db down")}
	eng := newTestEngine(repo, &mockUsageStore{}, testNow)

	_, err := eng.ApplyDiscounts(context.Background(), OrderContext{CustomerID: "c1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list eligible rules")
}

func TestValidateCode_Reasons(t *testing.T) {
	past := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)

	active := orderRule("r1", "GOOD", rule.Percentage{Value: d("10")})
	inactive := orderRule("r2", "INACTIVE", rule.Percentage{Value: d("10")})
	inactive.IsActive = false
	expired := orderRule("r3", "EXPIRED", rule.Percentage{Value: d("10")})
	expired.EndDate = &past
	notStarted := orderRule("r4", "SOON", rule.Percentage{Value: d("10")})
	notStarted.StartDate = &future
	limited := orderRule("r5", "LIMITED", rule.Percentage{Value: d("10")})
	limited.UsageLimit = 1
	limited.CurrentUsage = 1
	gated := orderRule("r6", "BIGORDER", rule.Percentage{Value: d("10")})
	gated.MinOrderAmount = d("1000.00")

	repo := &mockRuleRepo{rules: []rule.Rule{active, inactive, expired, notStarted, limited, gated}}
	eng := newTestEngine(repo, &mockUsageStore{}, testNow)
	order := OrderContext{
		CustomerID: "c1",
		Lines:      []LineItem{{ProductID: "p1", Quantity: 1, UnitPrice: d("50.00")}},
	}

	tests := []struct {
		code       string
		wantValid  bool
		wantReason CodeReason
	}{
		{"GOOD", true, ""},
		{"good", true, ""}, // codes are case-insensitive
		{"MISSING", false, ReasonNotFound},
		{"INACTIVE", false, ReasonInactive},
		{"EXPIRED", false, ReasonExpired},
		{"SOON", false, ReasonNotValid},
		{"LIMITED", false, ReasonUsageLimitReached},
		{"BIGORDER", false, ReasonNotValid},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got, err := eng.ValidateCode(context.Background(), tt.code, order)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, got.Valid)
			assert.Equal(t, tt.wantReason, got.Reason)
		})
	}
}

func TestValidateCode_ReturnsComputedAmount(t *testing.T) {
	r := orderRule("r1", "TENOFF", rule.Percentage{Value: d("10")})
	repo := &mockRuleRepo{rules: []rule.Rule{r}}
	eng := newTestEngine(repo, &mockUsageStore{}, testNow)

	got, err := eng.ValidateCode(context.Background(), "TENOFF", OrderContext{
		CustomerID: "c1",
		Lines:      []LineItem{{ProductID: "p1", Quantity: 1, UnitPrice: d("80.00")}},
	})

	require.NoError(t, err)
	require.True(t, got.Valid)
	require.NotNil(t, got.Rule)
	assert.Equal(t, "TENOFF", got.Rule.Code)
	assertDecimalEqual(t, d("8.00"), got.Amount)
}

func TestCommitRedemptions_RecordsOncePerRule(t *testing.T) {
	usage := &mockUsageStore{}
	eng := newTestEngine(&mockRuleRepo{}, usage, testNow)

	res := &PricingResult{
		Subtotal:      d("100.00"),
		TotalDiscount: d("15.00"),
		FinalTotal:    d("85.00"),
		Applied: []AppliedDiscount{
			{RuleID: "a", RuleCode: "A", Scope: "product p1 (line 1)", Amount: d("10.00")},
			{RuleID: "a", RuleCode: "A", Scope: "product p2 (line 2)", Amount: d("2.00")},
			{RuleID: "b", RuleCode: "B", Scope: "order", Amount: d("3.00")},
		},
	}

	adjusted, voided, err := eng.CommitRedemptions(context.Background(), res, "c1")
	require.NoError(t, err)
	assert.Empty(t, voided)
	assert.Equal(t, res, adjusted)
	assert.Equal(t, []string{"a:c1", "b:c1"}, usage.increments)
}

func TestCommitRedemptions_VoidsRaceLoser(t *testing.T) {
	usage := &mockUsageStore{
		limitFor: map[string]error{"a": rule.ErrUsageLimitReached},
	}
	eng := newTestEngine(&mockRuleRepo{}, usage, testNow)

	res := &PricingResult{
		Subtotal:      d("100.00"),
		TotalDiscount: d("13.00"),
		FinalTotal:    d("87.00"),
		Applied: []AppliedDiscount{
			{RuleID: "a", RuleCode: "A", Scope: "order", Amount: d("10.00")},
			{RuleID: "b", RuleCode: "B", Scope: "order", Amount: d("3.00")},
		},
	}

	adjusted, voided, err := eng.CommitRedemptions(context.Background(), res, "c1")
	require.NoError(t, err)

	require.Len(t, voided, 1)
	assert.Equal(t, "a", voided[0].RuleID)

	require.Len(t, adjusted.Applied, 1)
	assert.Equal(t, "b", adjusted.Applied[0].RuleID)
	assertDecimalEqual(t, d("3.00"), adjusted.TotalDiscount)
	assertDecimalEqual(t, d("97.00"), adjusted.FinalTotal)

	// The voided rule shows up in the excluded list for audit.
	found := false
	for _, x := range adjusted.Excluded {
		if x.RuleID == "a" {
			found = true
			assert.Contains(t, x.Reason, "usage limit reached at commit time")
		}
	}
	assert.True(t, found)
}

func TestCommitRedemptions_EnvironmentFailureAborts(t *testing.T) {
	usage := &mockUsageStore{
		limitFor: map[string]error{"a": errors.New("connection reset")},
	}
	eng := newTestEngine(&mockRuleRepo{}, usage, testNow)

	res := &PricingResult{
		Applied: []AppliedDiscount{{RuleID: "a", Amount: d("10.00")}},
	}

	_, _, err := eng.CommitRedemptions(context.Background(), res, "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record redemption")
}
