package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ordesk/promo-engine/internal/domain/rule"
)

const ruleColumns = `id, code, name, description,
	discount_type, discount_value, buy_quantity, get_quantity,
	applies_to, product_ids, category_ids, customer_ids, customer_classifications,
	min_order_amount, min_quantity, max_discount_amount,
	start_date, end_date,
	usage_limit, usage_per_customer, current_usage,
	priority, seq, combinable, active,
	version, created_at, updated_at`

const (
	findRuleByCodeSQL = `SELECT ` + ruleColumns + `
		FROM discount_rules WHERE UPPER(code) = UPPER($1)`

	getRuleSQL = `SELECT ` + ruleColumns + `
		FROM discount_rules WHERE id = $1`

	listEligibleSQL = `SELECT ` + ruleColumns + `
		FROM discount_rules
		WHERE active = TRUE
		  AND (start_date IS NULL OR start_date <= $1)
		  AND (end_date IS NULL OR end_date >= $1)
		  AND (usage_limit = 0 OR current_usage < usage_limit)
		ORDER BY priority DESC, seq ASC`

	insertRuleSQL = `INSERT INTO discount_rules (
		id, code, name, description,
		discount_type, discount_value, buy_quantity, get_quantity,
		applies_to, product_ids, category_ids, customer_ids, customer_classifications,
		min_order_amount, min_quantity, max_discount_amount,
		start_date, end_date,
		usage_limit, usage_per_customer,
		priority, combinable, active
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		$14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	RETURNING seq, version, created_at, updated_at`

	updateRuleSQL = `UPDATE discount_rules SET
		code = $2, name = $3, description = $4,
		discount_type = $5, discount_value = $6, buy_quantity = $7, get_quantity = $8,
		applies_to = $9, product_ids = $10, category_ids = $11,
		customer_ids = $12, customer_classifications = $13,
		min_order_amount = $14, min_quantity = $15, max_discount_amount = $16,
		start_date = $17, end_date = $18,
		usage_limit = $19, usage_per_customer = $20,
		priority = $21, combinable = $22, active = $23,
		version = version + 1, updated_at = now()
	WHERE id = $1 AND version = $24
	RETURNING version, updated_at`

	setRuleActiveSQL = `UPDATE discount_rules
		SET active = $2, version = version + 1, updated_at = now()
		WHERE id = $1`

	deleteUnusedRuleSQL = `DELETE FROM discount_rules
		WHERE id = $1 AND current_usage = 0`

	incrementRuleUsageSQL = `UPDATE discount_rules
		SET current_usage = current_usage + 1, updated_at = now()
		WHERE id = $1 AND (usage_limit = 0 OR current_usage < usage_limit)
		RETURNING usage_per_customer`

	incrementCustomerUsageSQL = `INSERT INTO rule_redemptions (rule_id, customer_id, uses, last_used_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (rule_id, customer_id) DO UPDATE
		SET uses = rule_redemptions.uses + 1, last_used_at = now()
		WHERE $3 = 0 OR rule_redemptions.uses < $3`

	ruleExistsSQL = `SELECT EXISTS (SELECT 1 FROM discount_rules WHERE id = $1)`
)

var _ rule.Store = (*RuleRepository)(nil)

// RuleRepository implements rule.Store backed by PostgreSQL.
type RuleRepository struct {
	pool *pgxpool.Pool
}

// NewRuleRepository returns a RuleRepository that uses the given pool.
func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

// FindByCode looks up a rule by its code, case-insensitively.
func (r *RuleRepository) FindByCode(ctx context.Context, code string) (*rule.Rule, error) {
	return r.queryOne(ctx, findRuleByCodeSQL, code)
}

// Get looks up a rule by id.
func (r *RuleRepository) Get(ctx context.Context, id string) (*rule.Rule, error) {
	return r.queryOne(ctx, getRuleSQL, id)
}

func (r *RuleRepository) queryOne(ctx context.Context, sql string, arg any) (*rule.Rule, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrap(err, "query rule")
	}

	rec, err := pgx.CollectExactlyOneRow(rows, scanRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, rule.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan rule")
	}
	return &rec, nil
}

// ListEligible returns active rules whose validity window contains now and
// whose global usage cap has capacity, ordered by priority descending then
// creation sequence ascending.
func (r *RuleRepository) ListEligible(ctx context.Context, now time.Time) ([]rule.Rule, error) {
	rows, err := r.pool.Query(ctx, listEligibleSQL, now)
	if err != nil {
		return nil, errors.Wrap(err, "list eligible rules")
	}

	rules, err := pgx.CollectRows(rows, scanRule)
	if err != nil {
		return nil, errors.Wrap(err, "scan eligible rules")
	}
	return rules, nil
}

// sortColumns whitelists the ORDER BY targets the admin listing accepts.
var sortColumns = map[string]string{
	"":           "priority",
	"priority":   "priority",
	"code":       "code",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

// List returns a filtered, sorted page of rules plus the unpaged total.
func (r *RuleRepository) List(ctx context.Context, f rule.ListFilter) ([]rule.Rule, int, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Active != nil {
		where = append(where, "active = "+arg(*f.Active))
	}
	if f.Code != "" {
		where = append(where, "code ILIKE "+arg("%"+f.Code+"%"))
	}
	if f.WithinWindowAt != nil {
		p := arg(*f.WithinWindowAt)
		where = append(where,
			"(start_date IS NULL OR start_date <= "+p+")",
			"(end_date IS NULL OR end_date >= "+p+")",
		)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT count(*) FROM discount_rules"+clause, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count rules")
	}

	col, ok := sortColumns[f.SortBy]
	if !ok {
		return nil, 0, errors.Errorf("unsupported sort column %q", f.SortBy)
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}

	sql := "SELECT " + ruleColumns + " FROM discount_rules" + clause +
		fmt.Sprintf(" ORDER BY %s %s, seq ASC", col, dir)
	if f.Limit > 0 {
		sql += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		sql += " OFFSET " + arg(f.Offset)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list rules")
	}
	rules, err := pgx.CollectRows(rows, scanRule)
	if err != nil {
		return nil, 0, errors.Wrap(err, "scan rules")
	}
	return rules, total, nil
}

// Create persists a new rule and fills in its storage-assigned fields.
func (r *RuleRepository) Create(ctx context.Context, rec *rule.Rule) error {
	value, buy, get := benefitColumns(rec.Benefit)

	err := r.pool.QueryRow(ctx, insertRuleSQL,
		rec.ID, rec.Code, rec.Name, rec.Description,
		string(rec.Benefit.Type()), value, buy, get,
		string(rec.AppliesTo), rec.ProductIDs, rec.CategoryIDs,
		rec.CustomerIDs, rec.CustomerClassifications,
		rec.MinOrderAmount, rec.MinQuantity, rec.MaxDiscountAmount,
		rec.StartDate, rec.EndDate,
		rec.UsageLimit, rec.UsagePerCustomer,
		rec.Priority, rec.IsCombinable, rec.IsActive,
	).Scan(&rec.Seq, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return rule.ErrCodeTaken
		}
		return errors.Wrapf(err, "create rule %q", rec.Code)
	}
	return nil
}

// Update persists the rule guarded by its current version. The usage counter
// is deliberately not writable here; it moves only through IncrementUsage.
func (r *RuleRepository) Update(ctx context.Context, rec *rule.Rule) error {
	value, buy, get := benefitColumns(rec.Benefit)

	err := r.pool.QueryRow(ctx, updateRuleSQL,
		rec.ID, rec.Code, rec.Name, rec.Description,
		string(rec.Benefit.Type()), value, buy, get,
		string(rec.AppliesTo), rec.ProductIDs, rec.CategoryIDs,
		rec.CustomerIDs, rec.CustomerClassifications,
		rec.MinOrderAmount, rec.MinQuantity, rec.MaxDiscountAmount,
		rec.StartDate, rec.EndDate,
		rec.UsageLimit, rec.UsagePerCustomer,
		rec.Priority, rec.IsCombinable, rec.IsActive,
		rec.Version,
	).Scan(&rec.Version, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the rule is gone or another writer bumped the version.
			if _, getErr := r.Get(ctx, rec.ID); getErr != nil {
				return getErr
			}
			return rule.ErrVersionConflict
		}
		if isUniqueViolation(err) {
			return rule.ErrCodeTaken
		}
		return errors.Wrapf(err, "update rule %s", rec.ID)
	}
	return nil
}

// SetActive flips the activation toggle.
func (r *RuleRepository) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.pool.Exec(ctx, setRuleActiveSQL, id, active)
	if err != nil {
		return errors.Wrapf(err, "set rule %s active=%t", id, active)
	}
	if tag.RowsAffected() == 0 {
		return rule.ErrNotFound
	}
	return nil
}

// Delete removes a rule that has never been redeemed; a rule with
// redemptions is deactivated instead so redeemed orders keep their audit
// trail.
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteUnusedRuleSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete rule %s", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	return r.SetActive(ctx, id, false)
}

// IncrementUsage bumps the rule's global counter and the per-customer
// counter in one transaction. The first statement's conditional update takes
// the row lock, so concurrent callers serialize on the rule row and the cap
// check can never be raced past. Returns rule.ErrUsageLimitReached or
// rule.ErrCustomerLimitReached without moving either counter when a cap is
// exhausted.
func (r *RuleRepository) IncrementUsage(ctx context.Context, ruleID, customerID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin redemption tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var perCustomer int
	err = tx.QueryRow(ctx, incrementRuleUsageSQL, ruleID).Scan(&perCustomer)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrapf(err, "increment usage for rule %s", ruleID)
		}
		var exists bool
		if err := r.pool.QueryRow(ctx, ruleExistsSQL, ruleID).Scan(&exists); err != nil {
			return errors.Wrapf(err, "check rule %s", ruleID)
		}
		if !exists {
			return rule.ErrNotFound
		}
		return rule.ErrUsageLimitReached
	}

	tag, err := tx.Exec(ctx, incrementCustomerUsageSQL, ruleID, customerID, perCustomer)
	if err != nil {
		return errors.Wrapf(err, "increment customer usage for rule %s", ruleID)
	}
	if tag.RowsAffected() == 0 {
		// Rolling back also undoes the global counter bump.
		return rule.ErrCustomerLimitReached
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit redemption tx")
	}
	return nil
}

func scanRule(row pgx.CollectableRow) (rule.Rule, error) {
	var (
		rec          rule.Rule
		discountType string
		appliesTo    string
		value        decimal.Decimal
		buy, get     int
	)
	err := row.Scan(
		&rec.ID, &rec.Code, &rec.Name, &rec.Description,
		&discountType, &value, &buy, &get,
		&appliesTo, &rec.ProductIDs, &rec.CategoryIDs,
		&rec.CustomerIDs, &rec.CustomerClassifications,
		&rec.MinOrderAmount, &rec.MinQuantity, &rec.MaxDiscountAmount,
		&rec.StartDate, &rec.EndDate,
		&rec.UsageLimit, &rec.UsagePerCustomer, &rec.CurrentUsage,
		&rec.Priority, &rec.Seq, &rec.IsCombinable, &rec.IsActive,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return rule.Rule{}, err
	}

	rec.AppliesTo = rule.AppliesTo(appliesTo)
	rec.Benefit, err = rule.NewBenefit(rule.DiscountType(discountType), value, buy, get)
	if err != nil {
		return rule.Rule{}, errors.Wrapf(err, "rule %s", rec.ID)
	}
	return rec, nil
}

// benefitColumns flattens a Benefit variant into its stored columns.
func benefitColumns(b rule.Benefit) (value decimal.Decimal, buy, get int) {
	switch v := b.(type) {
	case rule.Percentage:
		return v.Value, 0, 0
	case rule.Fixed:
		return v.Value, 0, 0
	case rule.BuyXGetY:
		return decimal.Zero, v.Buy, v.Get
	default:
		return decimal.Zero, 0, 0
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
