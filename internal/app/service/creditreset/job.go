// Package creditreset runs the monthly credit reset on a cron schedule.
package creditreset

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tradejournal/billing/internal/app/service/credit"
	"github.com/tradejournal/billing/pkg/config"
	"github.com/tradejournal/billing/pkg/metrics"
)

type Resetter interface {
	ResetAll(ctx context.Context, now time.Time) (int64, error)
}

type Job struct {
	credits Resetter
	log     *zap.SugaredLogger
	now     func() time.Time
	timeout time.Duration
}

func NewJob(credits Resetter, log *zap.SugaredLogger) *Job {
	return &Job{credits: credits, log: log, now: time.Now, timeout: 5 * time.Minute}
}

// Run resets every ledger row not yet reset this month.
func (j *Job) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	start := time.Now()
	defer metrics.ObserveBusinessProcess("credit", "reset", start)

	n, err := j.credits.ResetAll(ctx, j.now())
	if err != nil {
		j.log.Errorw("credit reset failed", "err", err)
		return
	}
	j.log.Infow("credit reset completed", "rows", n)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ l *zap.SugaredLogger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "err", err)...)
}

// NewScheduler registers job on spec. An invalid spec fails startup.
func NewScheduler(job *Job, spec string, log *zap.SugaredLogger) (*cron.Cron, error) {
	logger := cronLogger{l: log.With("component", "cron")}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddJob(spec, cron.FuncJob(job.Run)); err != nil {
		return nil, fmt.Errorf("invalid credit reset schedule %q: %w", spec, err)
	}
	return c, nil
}

func register(lc fx.Lifecycle, cfg *config.Config, credits *credit.Service, log *zap.SugaredLogger) error {
	spec := cfg.Credits.ResetSchedule
	if spec == "" {
		log.Infow("credit reset schedule empty, job disabled")
		return nil
	}
	c, err := NewScheduler(NewJob(credits, log), spec, log)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c.Start()
			log.Infow("scheduled credit reset job", "schedule", spec)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			select {
			case <-c.Stop().Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
	return nil
}

var Module = fx.Options(
	fx.Invoke(register),
)
