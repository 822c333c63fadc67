package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/magabrotheeeer/billing-reconciler/internal/ledger"
	"github.com/magabrotheeeer/billing-reconciler/internal/models"
)

const transactionColumns = `id, user_id, primary_type, source_type, transaction_type, value,
	COALESCE(subscription_ref, ''), COALESCE(payment_ref, ''), description, created_at`

func (t *pgTx) AppendTransactions(ctx context.Context, txs ...models.Transaction) error {
	const op = "storage.AppendTransactions"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO transactions (user_id, primary_type, source_type, transaction_type,
			      value, subscription_ref, payment_ref, description, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))`
	for _, tr := range txs {
		var createdAt any
		if !tr.CreatedAt.IsZero() {
			createdAt = tr.CreatedAt
		}
		if _, err := t.q.ExecContext(ctx, query,
			tr.UserID, string(tr.Pool), string(tr.Source), string(tr.Kind), tr.Value,
			nullString(tr.SubscriptionRef), nullString(tr.PaymentRef), tr.Description, createdAt); err != nil {
			return fmt.Errorf("%s: %w", op, mapError(err))
		}
	}
	return nil
}

func transactionQueryCondition(q ledger.TransactionQuery) (string, []any) {
	where := `user_id = $1 AND source_type = $2 AND transaction_type = $3`
	args := []any{q.UserID, string(q.Source), string(q.Kind)}
	if q.SubscriptionRef != "" {
		where += ` AND subscription_ref = $4`
		args = append(args, q.SubscriptionRef)
	}
	return where, args
}

func (t *pgTx) HasTransaction(ctx context.Context, q ledger.TransactionQuery) (bool, error) {
	const op = "storage.HasTransaction"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	where, args := transactionQueryCondition(q)
	var exists bool
	if err := t.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE `+where+`)`, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

func (t *pgTx) SumTransactions(ctx context.Context, q ledger.TransactionQuery) (models.Balances, error) {
	const op = "storage.SumTransactions"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	where, args := transactionQueryCondition(q)
	rows, err := t.q.QueryContext(ctx,
		`SELECT primary_type, COALESCE(SUM(value), 0) FROM transactions WHERE `+where+` GROUP BY primary_type`, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	sums := models.NewBalances()
	for rows.Next() {
		var (
			pool  string
			total int
		)
		if err := rows.Scan(&pool, &total); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		sums.Add(models.Pool(pool), total)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sums, nil
}

// ListTransactions возвращает транзакции по фильтру от новых к старым.
func (s *Storage) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, error) {
	const op = "storage.ListTransactions"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var (
		conds []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("user_id", filter.UserID)
	add("transaction_type", string(filter.Kind))
	add("source_type", string(filter.Source))
	add("primary_type", string(filter.Pool))

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var (
			tr                 models.Transaction
			pool, source, kind string
		)
		if err := rows.Scan(&tr.ID, &tr.UserID, &pool, &source, &kind, &tr.Value,
			&tr.SubscriptionRef, &tr.PaymentRef, &tr.Description, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		tr.Pool = models.Pool(pool)
		tr.Source = models.Source(source)
		tr.Kind = models.Kind(kind)
		txs = append(txs, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return txs, nil
}
