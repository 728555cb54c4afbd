package settlement

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tradejournal/billing/internal/app/service/credit"
	"github.com/tradejournal/billing/internal/app/service/discount"
	"github.com/tradejournal/billing/internal/app/service/settlement_log"
	"github.com/tradejournal/billing/internal/app/service/subscription"
	"github.com/tradejournal/billing/internal/platform/authorizenet"
	"github.com/tradejournal/billing/pkg/dbctx"
)

func provideService(
	discounts *discount.Service,
	gateway *authorizenet.Client,
	subs *subscription.Service,
	credits *credit.Service,
	tx *dbctx.Transactor,
	outcomes *settlement_log.Service,
	log *zap.SugaredLogger,
) *Service {
	return NewService(Deps{
		Discounts:     discounts,
		Gateway:       gateway,
		Subscriptions: subs,
		Credits:       credits,
		Tx:            tx,
		Outcomes:      outcomes,
		Log:           log,
	})
}

// Module exposes the settlement orchestrator via Fx.
var Module = fx.Options(
	fx.Provide(provideService),
)
