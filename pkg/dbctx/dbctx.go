// Package dbctx carries an open gorm transaction through context.Context so
// that services sharing a unit of work write through the same *gorm.DB.
package dbctx

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

type txKey struct{}

// FromCtx returns the transaction stored in ctx, or base bound to ctx.
func FromCtx(ctx context.Context, base *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return base.WithContext(ctx)
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok && tx != nil
}

// Transactor runs functions inside a database transaction.
type Transactor struct {
	db *gorm.DB
}

func NewTransactor(db *gorm.DB) *Transactor { return &Transactor{db: db} }

// Transaction runs fn in a transaction. Nested calls join the outer
// transaction. Returning an error from fn rolls back.
func (t *Transactor) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

var Module = fx.Options(
	fx.Provide(NewTransactor),
)
