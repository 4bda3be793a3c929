// Package txn defines the unit-of-work boundary shared by the domain services.
package txn

import "context"

// Runner executes fn inside a single storage transaction. Implementations
// must reuse the transaction already carried by ctx, so nested calls join
// the outer unit of work. A non-nil error from fn rolls everything back.
type Runner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Direct runs fn without a transaction. It is meant for tests and for
// in-memory repositories.
type Direct struct{}

// WithinTx implements Runner.
func (Direct) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
