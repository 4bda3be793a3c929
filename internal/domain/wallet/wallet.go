package wallet

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind is the direction of a wallet movement.
type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

// Reason classifies why a wallet balance changed.
type Reason string

const (
	ReasonReward         Reason = "reward"
	ReasonOrderPayment   Reason = "order_payment"
	ReasonRefund         Reason = "refund"
	ReasonRewardReversal Reason = "reward_reversal"
	ReasonAdjustment     Reason = "adjustment"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be greater than 0")
	// ErrUserNotFound is returned when the wallet owner does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// Transaction is one immutable ledger entry.
type Transaction struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Kind         Kind            `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       Reason          `json:"reason"`
	Description  string          `json:"description"`
	OrderID      string          `json:"orderId,omitempty"`
	BalanceAfter decimal.Decimal `json:"balanceAfter"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Entry is the input to Credit and Debit.
type Entry struct {
	UserID      string
	Amount      decimal.Decimal
	Reason      Reason
	Description string
	OrderID     string
}

// Wallet is a balance together with its most recent history.
type Wallet struct {
	Balance decimal.Decimal `json:"balance"`
	History []Transaction   `json:"history"`
}

// AuditResult compares the stored balance with the sum of the ledger.
type AuditResult struct {
	UserID        string          `json:"userId"`
	Balance       decimal.Decimal `json:"balance"`
	LedgerBalance decimal.Decimal `json:"ledgerBalance"`
	Consistent    bool            `json:"consistent"`
}

// Repository owns users.wallet_balance and the ledger table.
type Repository interface {
	// AddToBalance adds delta to the balance and returns the new balance.
	// A negative delta only applies when the balance covers it; otherwise
	// ErrInsufficientBalance is returned and nothing changes.
	AddToBalance(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error)
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	Append(ctx context.Context, tx *Transaction) error
	History(ctx context.Context, userID string, limit int) ([]Transaction, error)
	Audit(ctx context.Context, userID string) (*AuditResult, error)
	AuditAll(ctx context.Context) ([]AuditResult, error)
}
