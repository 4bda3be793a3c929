package main

import (
	"context"
	"fmt"
	"io"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/xenking/cake-heaven/internal/domain/txn"
	"github.com/xenking/cake-heaven/internal/domain/wallet"
	"github.com/xenking/cake-heaven/internal/storage/postgres"
)

// errInconsistent makes the audit exit non-zero.
var errInconsistent = errors.New("inconsistent wallets found")

type auditor interface {
	AuditAll(ctx context.Context) ([]wallet.AuditResult, error)
}

func (r *root) walletCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Loyalty wallet maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "audit",
		Short: "Compare every stored balance with its ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pool, err := r.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := wallet.NewService(postgres.NewWalletRepository(pool), txn.Direct{})
			return audit(ctx, svc, cmd.OutOrStdout())
		},
	})
	return cmd
}

// audit prints one line per inconsistent wallet and a summary.
func audit(ctx context.Context, a auditor, w io.Writer) error {
	results, err := a.AuditAll(ctx)
	if err != nil {
		return errors.Wrap(err, "audit wallets")
	}
	bad := 0
	for _, res := range results {
		if res.Consistent {
			continue
		}
		bad++
		_, _ = fmt.Fprintf(w, "%s\tbalance=%s\tledger=%s\tdiff=%s\n",
			res.UserID, res.Balance.StringFixed(2), res.LedgerBalance.StringFixed(2),
			res.Balance.Sub(res.LedgerBalance).StringFixed(2))
	}
	_, _ = fmt.Fprintf(w, "%d wallets audited, %d inconsistent\n", len(results), bad)
	if bad > 0 {
		return errInconsistent
	}
	return nil
}
