package wallet

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/cake-heaven/internal/domain/txn"
)

const defaultHistoryLimit = 50

// Service is the single writer of wallet balances. Every balance change is
// paired with a ledger entry inside one transaction.
type Service struct {
	repo Repository
	tx   txn.Runner
	now  func() time.Time
}

// NewService creates a wallet Service.
func NewService(repo Repository, tx txn.Runner) *Service {
	return &Service{repo: repo, tx: tx, now: time.Now}
}

// Credit adds e.Amount to the wallet.
func (s *Service) Credit(ctx context.Context, e Entry) (*Transaction, error) {
	return s.apply(ctx, KindCredit, e)
}

// Debit removes e.Amount from the wallet, failing with
// ErrInsufficientBalance when the balance does not cover it.
func (s *Service) Debit(ctx context.Context, e Entry) (*Transaction, error) {
	return s.apply(ctx, KindDebit, e)
}

// DebitUpTo removes at most e.Amount, clamped to the current balance.
// It returns nil when there is nothing to take.
func (s *Service) DebitUpTo(ctx context.Context, e Entry) (*Transaction, error) {
	var out *Transaction
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		balance, err := s.repo.Balance(ctx, e.UserID)
		if err != nil {
			return errors.Wrap(err, "read balance")
		}
		e.Amount = decimal.Min(e.Amount, balance)
		if !e.Amount.IsPositive() {
			return nil
		}
		out, err = s.apply(ctx, KindDebit, e)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) apply(ctx context.Context, kind Kind, e Entry) (*Transaction, error) {
	amount := e.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	delta := amount
	if kind == KindDebit {
		delta = amount.Neg()
	}

	t := &Transaction{
		ID:          uuid.New().String(),
		UserID:      e.UserID,
		Kind:        kind,
		Amount:      amount,
		Reason:      e.Reason,
		Description: e.Description,
		OrderID:     e.OrderID,
		CreatedAt:   s.now(),
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		balance, err := s.repo.AddToBalance(ctx, e.UserID, delta)
		if err != nil {
			return err
		}
		t.BalanceAfter = balance
		return s.repo.Append(ctx, t)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "%s wallet", kind)
	}
	return t, nil
}

// Get returns the balance and the newest history entries.
func (s *Service) Get(ctx context.Context, userID string, limit int) (*Wallet, error) {
	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}
	balance, err := s.repo.Balance(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "read balance")
	}
	history, err := s.repo.History(ctx, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "read history")
	}
	return &Wallet{Balance: balance, History: history}, nil
}

// Adjust applies a manual administrator correction.
func (s *Service) Adjust(ctx context.Context, userID string, kind Kind, amount decimal.Decimal, description string) (*Transaction, error) {
	if kind != KindCredit && kind != KindDebit {
		return nil, errors.Errorf("unknown wallet kind %q", kind)
	}
	if description == "" {
		description = "manual adjustment"
	}
	return s.apply(ctx, kind, Entry{
		UserID:      userID,
		Amount:      amount,
		Reason:      ReasonAdjustment,
		Description: description,
	})
}

// Audit checks that the stored balance equals credits minus debits.
func (s *Service) Audit(ctx context.Context, userID string) (*AuditResult, error) {
	res, err := s.repo.Audit(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "audit wallet")
	}
	return res, nil
}

// AuditAll runs Audit for every user and returns only the inconsistent ones.
func (s *Service) AuditAll(ctx context.Context) ([]AuditResult, error) {
	all, err := s.repo.AuditAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "audit wallets")
	}
	var bad []AuditResult
	for _, r := range all {
		if !r.Consistent {
			bad = append(bad, r)
		}
	}
	return bad, nil
}
