package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/cake-heaven/internal/domain/wallet"
)

const (
	addToBalanceSQL = `UPDATE users SET wallet_balance = wallet_balance + $2, updated_at = now()
		WHERE id = $1 AND wallet_balance + $2 >= 0
		RETURNING wallet_balance`

	balanceSQL    = `SELECT wallet_balance FROM users WHERE id = $1`
	userExistsSQL = `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`

	appendWalletTxSQL = `INSERT INTO wallet_transactions
		(id, user_id, kind, amount, reason, description, order_id, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	walletHistorySQL = `SELECT id, user_id, kind, amount, reason, description, order_id, balance_after, created_at
		FROM wallet_transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`

	auditSelectSQL = `SELECT u.id, u.wallet_balance,
			coalesce(sum(CASE WHEN t.kind = 'credit' THEN t.amount ELSE -t.amount END), 0)
		FROM users u LEFT JOIN wallet_transactions t ON t.user_id = u.id`

	auditUserSQL = auditSelectSQL + ` WHERE u.id = $1 GROUP BY u.id, u.wallet_balance`
	auditAllSQL  = auditSelectSQL + ` GROUP BY u.id, u.wallet_balance ORDER BY u.id`
)

var _ wallet.Repository = (*WalletRepository)(nil)

// WalletRepository implements wallet.Repository backed by PostgreSQL.
type WalletRepository struct {
	conn
}

// NewWalletRepository returns a WalletRepository that uses the given pool.
func NewWalletRepository(pool *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{conn{pool: pool}}
}

// AddToBalance applies delta with a conditional update so concurrent
// debits cannot overdraw the wallet.
func (r *WalletRepository) AddToBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.q(ctx).QueryRow(ctx, addToBalanceSQL, userID, delta).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("updating wallet balance: %w", err)
	}

	var exists bool
	if err := r.q(ctx).QueryRow(ctx, userExistsSQL, userID).Scan(&exists); err != nil {
		return decimal.Zero, fmt.Errorf("updating wallet balance: %w", err)
	}
	if !exists {
		return decimal.Zero, wallet.ErrUserNotFound
	}
	return decimal.Zero, wallet.ErrInsufficientBalance
}

// Balance returns the stored balance of a user.
func (r *WalletRepository) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	if err := r.q(ctx).QueryRow(ctx, balanceSQL, userID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, wallet.ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("getting wallet balance: %w", err)
	}
	return balance, nil
}

// Append writes a ledger entry.
func (r *WalletRepository) Append(ctx context.Context, tx *wallet.Transaction) error {
	_, err := r.q(ctx).Exec(ctx, appendWalletTxSQL,
		tx.ID, tx.UserID, tx.Kind, tx.Amount, tx.Reason, tx.Description, tx.OrderID, tx.BalanceAfter, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending wallet transaction: %w", err)
	}
	return nil
}

// History returns up to limit ledger entries, newest first.
func (r *WalletRepository) History(ctx context.Context, userID string, limit int) ([]wallet.Transaction, error) {
	rows, err := r.q(ctx).Query(ctx, walletHistorySQL, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing wallet history: %w", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (wallet.Transaction, error) {
		var t wallet.Transaction
		err := row.Scan(&t.ID, &t.UserID, &t.Kind, &t.Amount, &t.Reason, &t.Description, &t.OrderID,
			&t.BalanceAfter, &t.CreatedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing wallet history: %w", err)
	}
	return list, nil
}

// Audit compares one stored balance with the sum of its ledger.
func (r *WalletRepository) Audit(ctx context.Context, userID string) (*wallet.AuditResult, error) {
	rows, err := r.q(ctx).Query(ctx, auditUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("auditing wallet: %w", err)
	}
	res, err := pgx.CollectExactlyOneRow(rows, scanAudit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrUserNotFound
		}
		return nil, fmt.Errorf("auditing wallet: %w", err)
	}
	return &res, nil
}

// AuditAll audits every wallet.
func (r *WalletRepository) AuditAll(ctx context.Context) ([]wallet.AuditResult, error) {
	rows, err := r.q(ctx).Query(ctx, auditAllSQL)
	if err != nil {
		return nil, fmt.Errorf("auditing wallets: %w", err)
	}
	list, err := pgx.CollectRows(rows, scanAudit)
	if err != nil {
		return nil, fmt.Errorf("auditing wallets: %w", err)
	}
	return list, nil
}

func scanAudit(row pgx.CollectableRow) (wallet.AuditResult, error) {
	var a wallet.AuditResult
	if err := row.Scan(&a.UserID, &a.Balance, &a.LedgerBalance); err != nil {
		return a, err
	}
	a.Consistent = a.Balance.Equal(a.LedgerBalance)
	return a, nil
}
