package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/magabrotheeeer/billing-reconciler/internal/ledger"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

// poolColumns сопоставляет пулам колонки текущих балансов.
var poolColumns = map[models.Pool]string{
	models.PoolTestCase:  "current_test_case",
	models.PoolUserStory: "current_user_story",
}

const userColumns = `id, email, current_test_case, current_user_story,
	payment_customer_ref, payment_subscription_ref, has_used_trial,
	trial_end_date, validity_expiration, credit_cleanup_date,
	account_deletion_date, benefits_end_date, is_blocked, is_deleted, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                            models.User
		testCase, userStory          int
		customerRef, subscriptionRef sql.NullString
		trialEnd, validity, cleanup  sql.NullTime
		deletion, benefitsEnd        sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &testCase, &userStory,
		&customerRef, &subscriptionRef, &u.HasUsedTrial,
		&trialEnd, &validity, &cleanup,
		&deletion, &benefitsEnd, &u.IsBlocked, &u.IsDeleted, &u.CreatedAt); err != nil {
		return nil, err
	}

	u.Balances = models.Balances{
		models.PoolTestCase:  testCase,
		models.PoolUserStory: userStory,
	}
	u.CustomerRef = customerRef.String
	u.SubscriptionRef = subscriptionRef.String
	u.TrialEndDate = timePtr(trialEnd)
	u.ValidityExpiration = timePtr(validity)
	u.CreditCleanupDate = timePtr(cleanup)
	u.AccountDeletionDate = timePtr(deletion)
	u.BenefitsEndDate = timePtr(benefitsEnd)
	return &u, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func getUser(ctx context.Context, q queryer, op, where string, arg any) (*models.User, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Storage) GetUser(ctx context.Context, id string) (*models.User, error) {
	return getUser(ctx, s.DB, "storage.GetUser", "id = $1", id)
}

// GetUserByEmail возвращает пользователя по email.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return getUser(ctx, s.DB, "storage.GetUserByEmail", "email = $1", email)
}

func (t *pgTx) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return getUser(ctx, t.q, "storage.UserByEmail", "email = $1 FOR UPDATE", email)
}

func (t *pgTx) UserByCustomerRef(ctx context.Context, customerRef string) (*models.User, error) {
	const op = "storage.UserByCustomerRef"
	if customerRef == "" {
		return nil, fmt.Errorf("%s: %w", op, ledger.ErrNotFound)
	}
	return getUser(ctx, t.q, op, "payment_customer_ref = $1 FOR UPDATE", customerRef)
}

func (t *pgTx) CreateUser(ctx context.Context, user *models.User) error {
	const op = "storage.CreateUser"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}
	if user.ID == "" {
		return fmt.Errorf("%s: empty user id", op)
	}
	if user.Balances == nil {
		user.Balances = models.NewBalances()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	query := `INSERT INTO users (` + userColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	if _, err := t.q.ExecContext(ctx, query,
		user.ID, user.Email,
		user.Balances.Get(models.PoolTestCase), user.Balances.Get(models.PoolUserStory),
		nullString(user.CustomerRef), nullString(user.SubscriptionRef), user.HasUsedTrial,
		nullTime(user.TrialEndDate), nullTime(user.ValidityExpiration), nullTime(user.CreditCleanupDate),
		nullTime(user.AccountDeletionDate), nullTime(user.BenefitsEndDate),
		user.IsBlocked, user.IsDeleted, user.CreatedAt); err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}
	return nil
}

func (t *pgTx) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.SaveUser"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET email = $2, current_test_case = $3, current_user_story = $4,
			      payment_customer_ref = $5, payment_subscription_ref = $6, has_used_trial = $7,
			      trial_end_date = $8, validity_expiration = $9, credit_cleanup_date = $10,
			      account_deletion_date = $11, benefits_end_date = $12,
			      is_blocked = $13, is_deleted = $14
			  WHERE id = $1`
	res, err := t.q.ExecContext(ctx, query,
		user.ID, user.Email,
		user.Balances.Get(models.PoolTestCase), user.Balances.Get(models.PoolUserStory),
		nullString(user.CustomerRef), nullString(user.SubscriptionRef), user.HasUsedTrial,
		nullTime(user.TrialEndDate), nullTime(user.ValidityExpiration), nullTime(user.CreditCleanupDate),
		nullTime(user.AccountDeletionDate), nullTime(user.BenefitsEndDate),
		user.IsBlocked, user.IsDeleted)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ledger.ErrNotFound)
	}
	return nil
}

// sweepCondition повторяет ledger.Criteria.Matches на SQL.
func sweepCondition(c ledger.Criteria) (string, []any, error) {
	positive := make([]string, 0, len(models.Pools))
	for _, p := range models.Pools {
		positive = append(positive, poolColumns[p]+" > 0")
	}

	switch c.Sweep {
	case ledger.SweepBlock:
		return `is_deleted = FALSE AND is_blocked = FALSE
			AND validity_expiration < $1 AND credit_cleanup_date IS NULL`, []any{c.Now}, nil
	case ledger.SweepCleanup:
		return `is_deleted = FALSE AND credit_cleanup_date < $1
			AND (` + strings.Join(positive, " OR ") + `)`, []any{c.Now}, nil
	case ledger.SweepDelete:
		return `is_deleted = FALSE AND account_deletion_date < $1`, []any{c.Now}, nil
	case ledger.SweepTrialExpired:
		return `trial_end_date < $1`, []any{c.Now}, nil
	case ledger.SweepBenefitsExpired:
		return `is_blocked = TRUE AND benefits_end_date < $1`, []any{c.Now}, nil
	case ledger.SweepTrialEnding:
		return `is_deleted = FALSE AND trial_end_date >= $1 AND trial_end_date < $2`,
			[]any{c.From, c.Until}, nil
	case ledger.SweepBenefitsEnding:
		return `is_deleted = FALSE AND benefits_end_date >= $1 AND benefits_end_date < $2`,
			[]any{c.From, c.Until}, nil
	default:
		return "", nil, fmt.Errorf("unknown sweep %q", c.Sweep)
	}
}

func (t *pgTx) UsersDue(ctx context.Context, c ledger.Criteria) ([]*models.User, error) {
	const op = "storage.UsersDue"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	where, args, err := sweepCondition(c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := t.q.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where+` ORDER BY created_at, id FOR UPDATE`, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return users, nil
}
