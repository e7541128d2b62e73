// Command seed-db provisions a database with demo discount rules and an API
// key for local development.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordesk/promo-engine/internal/domain/auth"
	"github.com/ordesk/promo-engine/internal/domain/rule"
	"github.com/ordesk/promo-engine/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or PROMO_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PROMO_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("PROMO_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or PROMO_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("PROMO_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedRules(ctx, postgres.NewRuleRepository(pool)); err != nil {
		return errors.Wrap(err, "seed rules")
	}
	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedRules(ctx context.Context, store rule.Store) error {
	slog.Info("seeding demo discount rules")

	endOfYear := time.Date(time.Now().Year(), 12, 31, 23, 59, 59, 0, time.UTC)

	rules := []*rule.Rule{
		{
			Code:           "WELCOME10",
			Name:           "Welcome discount",
			Description:    "10% off the whole order for new and old friends alike",
			Benefit:        rule.Percentage{Value: decimal.NewFromInt(10)},
			AppliesTo:      rule.AppliesOrder,
			MinOrderAmount: decimal.NewFromInt(20),
			Priority:       10,
			IsCombinable:   true,
			IsActive:       true,
		},
		{
			Code:              "FIVEOFF",
			Name:              "Five off",
			Description:       "Flat 5 off orders over 50",
			Benefit:           rule.Fixed{Value: decimal.NewFromInt(5)},
			AppliesTo:         rule.AppliesOrder,
			MinOrderAmount:    decimal.NewFromInt(50),
			MaxDiscountAmount: decimal.NewFromInt(5),
			Priority:          5,
			IsCombinable:      true,
			IsActive:          true,
		},
		{
			Code:         "SNACKTIME",
			Name:         "Snack attack",
			Description:  "Buy 2 get 1 free on snacks",
			Benefit:      rule.BuyXGetY{Buy: 2, Get: 1},
			AppliesTo:    rule.AppliesCategory,
			CategoryIDs:  []string{"snacks"},
			Priority:     20,
			IsCombinable: false,
			IsActive:     true,
			EndDate:      &endOfYear,
		},
		{
			Code:                    "VIP25",
			Name:                    "VIP quarter off",
			Description:             "25% off for VIP customers, once each",
			Benefit:                 rule.Percentage{Value: decimal.NewFromInt(25)},
			AppliesTo:               rule.AppliesOrder,
			CustomerClassifications: []string{"vip"},
			UsagePerCustomer:        1,
			Priority:                30,
			IsCombinable:            false,
			IsActive:                true,
		},
	}

	for _, r := range rules {
		r.ID = uuid.NewString()
		if err := r.Validate(); err != nil {
			return errors.Wrapf(err, "validate rule %s", r.Code)
		}
		if err := store.Create(ctx, r); err != nil {
			if errors.Is(err, rule.ErrCodeTaken) {
				slog.Info("rule already exists, skipping", slog.String("code", r.Code))
				continue
			}
			return errors.Wrapf(err, "create rule %s", r.Code)
		}
		slog.Info("created rule", slog.String("code", r.Code), slog.String("name", r.Name))
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo auth.Repository, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	if err := repo.Upsert(ctx, &auth.APIKey{
		ID:      "default",
		KeyHash: keyHash,
		Name:    "Default dev key",
		Scopes:  []string{"manage_rules", "commit_redemptions"},
	}); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"))
	return nil
}
