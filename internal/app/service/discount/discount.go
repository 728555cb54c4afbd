// Package discount resolves discount codes and redeems them with a single
// conditional update so a capped code cannot be over-redeemed.
package discount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tradejournal/billing/internal/models"
	"github.com/tradejournal/billing/pkg/dbctx"
	"github.com/tradejournal/billing/pkg/logctx"
	"github.com/tradejournal/billing/pkg/types"
)

// Resolution is the outcome of resolving a code. A rejected or empty code has
// a zero Percentage and no DiscountID.
type Resolution struct {
	DiscountID string
	Code       string
	Percentage decimal.Decimal
	Rejection  types.DiscountRejection
}

func (r *Resolution) Applied() bool {
	return r != nil && r.DiscountID != "" && r.Rejection == types.DiscountRejectionNone
}

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
	now func() time.Time
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log, now: time.Now}
}

// Resolve looks up code (exact, case-sensitive) among active codes. It has no
// side effects. An empty code means no discount.
func (s *Service) Resolve(ctx context.Context, code string) (*Resolution, error) {
	res := &Resolution{Code: code, Percentage: decimal.Zero}
	if code == "" {
		return res, nil
	}

	var d models.DiscountCode
	err := dbctx.FromCtx(ctx, s.db).
		Where("code = ? AND active = ?", code, true).
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		res.Rejection = types.DiscountRejectionNotFound
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load discount code: %w", err)
	}

	if res.Rejection = evaluate(&d, s.now()); res.Rejection != types.DiscountRejectionNone {
		logctx.FromCtx(ctx, s.log).Infow("discount code rejected", "discount_code", code, "reason", res.Rejection)
		return res, nil
	}
	res.DiscountID = d.ID
	res.Percentage = d.Percentage
	return res, nil
}

// Redeem increments uses_count by one if the code is still usable. A rejected
// increment is returned as a rejection, not an error.
func (s *Service) Redeem(ctx context.Context, discountID string) (types.DiscountRejection, error) {
	now := s.now()
	db := dbctx.FromCtx(ctx, s.db)
	tx := db.Model(&models.DiscountCode{}).
		Where("id = ? AND active = ?", discountID, true).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Where("max_uses IS NULL OR uses_count < max_uses").
		Updates(map[string]any{
			"uses_count": gorm.Expr("uses_count + 1"),
			"updated_at": now,
		})
	if tx.Error != nil {
		return types.DiscountRejectionNone, fmt.Errorf("failed to redeem discount code: %w", tx.Error)
	}
	if tx.RowsAffected == 1 {
		return types.DiscountRejectionNone, nil
	}

	// lost the race or the code changed after Resolve; work out why
	var d models.DiscountCode
	err := db.Where("id = ?", discountID).First(&d).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return types.DiscountRejectionNotFound, nil
	case err != nil:
		return types.DiscountRejectionNone, fmt.Errorf("failed to reload discount code: %w", err)
	case !d.Active:
		return types.DiscountRejectionNotFound, nil
	}
	if r := evaluate(&d, now); r != types.DiscountRejectionNone {
		return r, nil
	}
	return types.DiscountRejectionExhausted, nil
}

func evaluate(d *models.DiscountCode, now time.Time) types.DiscountRejection {
	switch {
	case d.Expired(now):
		return types.DiscountRejectionExpired
	case d.Exhausted():
		return types.DiscountRejectionExhausted
	default:
		return types.DiscountRejectionNone
	}
}

var Module = fx.Options(
	fx.Provide(NewService),
)
