// Package credit is the per-user monthly allowance of AI generation calls.
package credit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tradejournal/billing/internal/models"
	"github.com/tradejournal/billing/pkg/dbctx"
	"github.com/tradejournal/billing/pkg/logctx"
	"github.com/tradejournal/billing/pkg/metrics"
	"github.com/tradejournal/billing/pkg/tool"
)

const (
	DefaultAllowance = 5
	PremiumAllowance = 30
)

var ErrCreditsExhausted = errors.New("credits exhausted")

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
	now func() time.Time
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log, now: time.Now}
}

// Initialize creates the user's row with allowance. An existing row is left
// untouched, including its allowance.
func (s *Service) Initialize(ctx context.Context, userID string, allowance int) error {
	now := s.now()
	row := &models.UserCredits{
		ID:            tool.GenerateUUIDV7(),
		UserID:        userID,
		TotalCredits:  allowance,
		LastResetDate: now,
	}
	err := dbctx.FromCtx(ctx, s.db).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to initialize credits: %w", err)
	}
	return nil
}

// Consume spends one credit and returns what is left. The check and the
// increment are one statement, so concurrent callers cannot overdraw.
func (s *Service) Consume(ctx context.Context, userID string) (int, error) {
	start := time.Now()
	defer metrics.ObserveBusinessProcess("credit", "consume", start)

	if err := s.Initialize(ctx, userID, DefaultAllowance); err != nil {
		return 0, err
	}

	var remaining []int
	res := dbctx.FromCtx(ctx, s.db).Raw(
		`UPDATE user_credits SET used_credits = used_credits + 1, updated_at = ?
		WHERE user_id = ? AND used_credits < total_credits
		RETURNING total_credits - used_credits`,
		s.now(), userID,
	).Scan(&remaining)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to consume credit: %w", res.Error)
	}
	if len(remaining) == 0 {
		logctx.FromCtx(ctx, s.log).Infow("credits exhausted", "user_id", userID)
		return 0, ErrCreditsExhausted
	}
	return remaining[0], nil
}

// Get returns the user's ledger row, creating the default allowance on first use.
func (s *Service) Get(ctx context.Context, userID string) (*models.UserCredits, error) {
	if err := s.Initialize(ctx, userID, DefaultAllowance); err != nil {
		return nil, err
	}
	var row models.UserCredits
	if err := dbctx.FromCtx(ctx, s.db).Where("user_id = ?", userID).First(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to load credits: %w", err)
	}
	return &row, nil
}

func (s *Service) Available(ctx context.Context, userID string) (int, error) {
	row, err := s.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return row.Available(), nil
}

// ResetAll zeroes used_credits for every row not yet reset in now's calendar
// month, so running it twice in one month resets once.
func (s *Service) ResetAll(ctx context.Context, now time.Time) (int64, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	res := dbctx.FromCtx(ctx, s.db).Model(&models.UserCredits{}).
		Where("last_reset_date < ?", monthStart).
		Updates(map[string]any{
			"used_credits":    0,
			"last_reset_date": now,
			"updated_at":      now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reset credits: %w", res.Error)
	}
	return res.RowsAffected, nil
}

var Module = fx.Options(
	fx.Provide(NewService),
)
