package pricing

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ordesk/promo-engine/internal/domain/rule"
)

// memUsageStore is an in-memory UsageStore with the same conditional
// increment semantics as the SQL implementation: check and bump happen under
// one lock, so either both counters move or neither does.
type memUsageStore struct {
	mu          sync.Mutex
	limit       int
	perCustomer int
	count       int
	customers   map[string]int
}

func newMemUsageStore(limit, perCustomer int) *memUsageStore {
	return &memUsageStore{
		limit:       limit,
		perCustomer: perCustomer,
		customers:   make(map[string]int),
	}
}

func (s *memUsageStore) IncrementUsage(_ context.Context, _, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limit > 0 && s.count >= s.limit {
		return rule.ErrUsageLimitReached
	}
	if s.perCustomer > 0 && s.customers[customerID] >= s.perCustomer {
		return rule.ErrCustomerLimitReached
	}
	s.count++
	s.customers[customerID]++
	return nil
}

func TestRecordRedemption_Success(t *testing.T) {
	store := newMemUsageStore(2, 0)
	ledger := NewLedger(store)

	require.NoError(t, ledger.RecordRedemption(context.Background(), "r1", "c1"))
	require.NoError(t, ledger.RecordRedemption(context.Background(), "r1", "c2"))
	assert.Equal(t, 2, store.count)
}

func TestRecordRedemption_GlobalLimit(t *testing.T) {
	store := newMemUsageStore(1, 0)
	ledger := NewLedger(store)

	require.NoError(t, ledger.RecordRedemption(context.Background(), "r1", "c1"))
	err := ledger.RecordRedemption(context.Background(), "r1", "c2")
	require.ErrorIs(t, err, rule.ErrUsageLimitReached)
	assert.Equal(t, 1, store.count)
}

func TestRecordRedemption_PerCustomerLimit(t *testing.T) {
	store := newMemUsageStore(0, 1)
	ledger := NewLedger(store)

	require.NoError(t, ledger.RecordRedemption(context.Background(), "r1", "c1"))
	err := ledger.RecordRedemption(context.Background(), "r1", "c1")
	require.ErrorIs(t, err, rule.ErrCustomerLimitReached)

	// A different customer is unaffected.
	require.NoError(t, ledger.RecordRedemption(context.Background(), "r1", "c2"))
}

func TestRecordRedemption_WrapsEnvironmentErrors(t *testing.T) {
	ledger := NewLedger(&failingUsageStore{})
	err := ledger.RecordRedemption(context.Background(), "r1", "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "increment usage for rule r1")
}

type failingUsageStore struct{}

func (failingUsageStore) IncrementUsage(context.Context, string, string) error {
	return errors.New("io timeout")
}

// TestRecordRedemption_ConcurrentCallersNeverExceedLimit hammers the ledger
// from many goroutines that all believe the rule still has capacity, and
// verifies the counter lands exactly on the cap.
func TestRecordRedemption_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	const (
		limit   = 25
		callers = 200
	)
	store := newMemUsageStore(limit, 0)
	ledger := NewLedger(store)

	var (
		mu        sync.Mutex
		succeeded int
		rejected  int
	)

	g, ctx := errgroup.WithContext(context.Background())
	for i := range callers {
		customer := string(rune('a' + i%26))
		g.Go(func() error {
			err := ledger.RecordRedemption(ctx, "r1", customer)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, rule.ErrUsageLimitReached):
				rejected++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, limit, succeeded)
	assert.Equal(t, callers-limit, rejected)
	assert.Equal(t, limit, store.count)
}

// TestRecordRedemption_ConcurrentPerCustomerCap runs concurrent redemptions
// for a handful of customers and checks no customer exceeds their cap.
func TestRecordRedemption_ConcurrentPerCustomerCap(t *testing.T) {
	const (
		perCustomer = 3
		callers     = 100
	)
	store := newMemUsageStore(0, perCustomer)
	ledger := NewLedger(store)

	customers := []string{"c1", "c2", "c3"}

	g, ctx := errgroup.WithContext(context.Background())
	for i := range callers {
		customer := customers[i%len(customers)]
		g.Go(func() error {
			err := ledger.RecordRedemption(ctx, "r1", customer)
			if err != nil && !errors.Is(err, rule.ErrCustomerLimitReached) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, c := range customers {
		assert.Equal(t, perCustomer, store.customers[c], "customer %s", c)
	}
}
