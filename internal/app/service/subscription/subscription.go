package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tradejournal/billing/internal/models"
	"github.com/tradejournal/billing/internal/platform/rabbitmq"
	"github.com/tradejournal/billing/pkg/dbctx"
	"github.com/tradejournal/billing/pkg/logctx"
	"github.com/tradejournal/billing/pkg/tool"
	"github.com/tradejournal/billing/pkg/types"
)

var (
	ErrActiveSubscriptionExists = errors.New("user already has an active subscription")
	ErrNoActiveSubscription     = errors.New("no active subscription")
)

type Service struct {
	db        *gorm.DB
	log       *zap.SugaredLogger
	publisher rabbitmq.Publisher
	now       func() time.Time
}

func NewService(db *gorm.DB, log *zap.SugaredLogger, publisher rabbitmq.Publisher) *Service {
	return &Service{db: db, log: log, publisher: publisher, now: time.Now}
}

// GetActive returns the user's active subscription or ErrNoActiveSubscription.
func (s *Service) GetActive(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := dbctx.FromCtx(ctx, s.db).
		Where("user_id = ? AND status = ?", userID, types.SubscriptionStatusActive).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveSubscription
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active subscription: %w", err)
	}
	return &sub, nil
}

const subscriptionLogSavePoint = "subscription_log"

// Activate inserts sub as the user's active subscription. The partial unique
// index turns a concurrent second activation into ErrActiveSubscriptionExists.
func (s *Service) Activate(ctx context.Context, sub *models.Subscription, reason types.SubscriptionChangeReason) error {
	if sub.ID == "" {
		sub.ID = tool.GenerateUUIDV7()
	}
	sub.Status = types.SubscriptionStatusActive
	if sub.StartedAt.IsZero() {
		sub.StartedAt = s.now()
	}

	err := dbctx.FromCtx(ctx, s.db).Create(sub).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrActiveSubscriptionExists
	}
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	logctx.FromCtx(ctx, s.log).Infow("subscription activated",
		"subscription_id", sub.ID, "plan_type", sub.Plan, "amount", sub.Amount.StringFixed(2), "reason", reason)
	s.saveLog(ctx, nil, sub, reason)
	return nil
}

// Cancel flips the active subscription to canceled. The row is kept.
func (s *Service) Cancel(ctx context.Context, userID string) (*models.Subscription, error) {
	var before, after models.Subscription
	err := dbctx.FromCtx(ctx, s.db).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND status = ?", userID, types.SubscriptionStatusActive).
			First(&before).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNoActiveSubscription
			}
			return fmt.Errorf("failed to load subscription: %w", err)
		}

		now := s.now()
		after = before
		after.Status = types.SubscriptionStatusCanceled
		after.CanceledAt = &now
		after.NextBillingDate = nil
		if err := tx.Model(&after).Select("status", "canceled_at", "next_billing_date", "updated_at").Updates(&after).Error; err != nil {
			return fmt.Errorf("failed to cancel subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logctx.FromCtx(ctx, s.log).Infow("subscription canceled", "subscription_id", after.ID)
	s.saveLog(ctx, &before, &after, types.SubscriptionChangeReasonCancel)
	s.Publish(ctx, rabbitmq.RoutingKeySubscriptionCanceled, &after)
	return &after, nil
}

// Publish sends a lifecycle event in the background. Failures are logged only.
func (s *Service) Publish(ctx context.Context, routingKey string, sub *models.Subscription) {
	if s.publisher == nil {
		return
	}
	event := rabbitmq.SubscriptionEvent{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		PlanType:       string(sub.Plan),
		Amount:         sub.Amount.StringFixed(2),
		Free:           sub.PaymentInstrument == types.FreeInstrument,
		OccurredAt:     s.now(),
	}
	go func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.publisher.Publish(pctx, routingKey, event); err != nil {
			logctx.FromCtx(ctx, s.log).Warnw("failed to publish subscription event", "routing_key", routingKey, "err", err)
		}
	}()
}

// saveLog records the change. Inside a caller's transaction the row is written
// there, under a savepoint, so it shares the transaction's fate. Otherwise it
// is written in the background. Errors are logged but not returned.
func (s *Service) saveLog(ctx context.Context, before, after *models.Subscription, reason types.SubscriptionChangeReason) {
	entry := &models.SubscriptionLog{
		ID:     tool.GenerateUUIDV7(),
		UserID: after.UserID,
		Reason: reason,
		Before: datatypes.NewJSONType(before),
		After:  datatypes.NewJSONType(after),
		Extra:  datatypes.JSONMap{"trace_id": logctx.TraceID(ctx)},
	}
	if dbctx.InTx(ctx) {
		// a failed insert must not poison the enclosing transaction
		tx := dbctx.FromCtx(ctx, s.db)
		tx.SavePoint(subscriptionLogSavePoint)
		if err := tx.Create(entry).Error; err != nil {
			tx.RollbackTo(subscriptionLogSavePoint)
			logctx.FromCtx(ctx, s.log).Errorf("failed to save subscription log: %v", err)
		}
		return
	}
	go func() {
		if err := s.db.Create(entry).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save subscription log: %v", err)
		}
	}()
}
