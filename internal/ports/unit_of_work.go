package ports

import "context"

// Tx is the transaction handle carried in a context. The persistence adapter
// decides its concrete type (*gorm.DB for sqlite).
type Tx = any

// UnitOfWork runs fn in one transaction: a nil return commits, an error rolls back.
// Repositories called with the ctx passed to fn join that transaction.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

func WithTxContext(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns nil outside a unit of work.
func TxFromContext(ctx context.Context) Tx {
	if ctx == nil {
		return nil
	}
	return ctx.Value(txKey{})
}
