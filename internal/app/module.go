package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/tradejournal/billing/internal/app/api/server"
	"github.com/tradejournal/billing/internal/app/service/credit"
	"github.com/tradejournal/billing/internal/app/service/creditreset"
	"github.com/tradejournal/billing/internal/app/service/discount"
	"github.com/tradejournal/billing/internal/app/service/settlement"
	"github.com/tradejournal/billing/internal/app/service/settlement_log"
	"github.com/tradejournal/billing/internal/app/service/statistics"
	"github.com/tradejournal/billing/internal/app/service/subscription"
	"github.com/tradejournal/billing/internal/platform/authorizenet"
	"github.com/tradejournal/billing/internal/platform/db"
	"github.com/tradejournal/billing/internal/platform/rabbitmq"
	"github.com/tradejournal/billing/internal/platform/redis"
	"github.com/tradejournal/billing/pkg/config"
	"github.com/tradejournal/billing/pkg/dbctx"
	"github.com/tradejournal/billing/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	dbctx.Module,
	redis.Module,
	rabbitmq.Module,
	authorizenet.Module,
	server.Module,
	subscription.Module,
	discount.Module,
	credit.Module,
	settlement_log.Module,
	settlement.Module,
	statistics.Module,
	creditreset.Module,
)
