package settlement_log

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tradejournal/billing/internal/models"
	"github.com/tradejournal/billing/pkg/logctx"
	"github.com/tradejournal/billing/pkg/tool"
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// Save asynchronously persists a settlement outcome. Nil input is ignored.
func (s *Service) Save(ctx context.Context, entry *models.SettlementLog) {
	if entry == nil {
		return
	}
	go func() {
		if entry.ID == "" {
			entry.ID = tool.GenerateUUIDV7()
		}
		if entry.TraceID == "" {
			entry.TraceID = logctx.TraceID(ctx)
		}
		if err := s.db.Create(entry).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save settlement log: %v", err)
		}
	}()
}

var Module = fx.Options(
	fx.Provide(New),
)
