package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"guildrelay/internal/config"
	logx "guildrelay/pkg/logx"
)

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}

func (a *App) startCron(cfg *config.Config) error {
	cl := cronLogger{log: a.log.With(logx.String("comp", "cron"))}
	c := cron.New(
		cron.WithParser(config.ScheduleParser),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		cron.WithLogger(cl),
	)
	a.cronMu.Lock()
	a.cron = c
	a.cronMu.Unlock()
	if err := a.scheduleJobs(cfg); err != nil {
		return err
	}
	c.Start()
	return nil
}

// scheduleJobs replaces the maintenance jobs with the ones cfg asks for.
func (a *App) scheduleJobs(cfg *config.Config) error {
	a.cronMu.Lock()
	defer a.cronMu.Unlock()
	if a.cron == nil {
		return nil
	}

	sweep := cfg.State.SweepEvery
	if sweep == "" {
		sweep = config.DefaultStateSweep
	}
	sweepSched, err := config.ScheduleParser.Parse(sweep)
	if err != nil {
		return fmt.Errorf("state.sweep_every: %w", err)
	}
	var statsSched cron.Schedule
	if cfg.Stats.Every != "" {
		if statsSched, err = config.ScheduleParser.Parse(cfg.Stats.Every); err != nil {
			return fmt.Errorf("stats.every: %w", err)
		}
	}

	for _, id := range a.cronIDs {
		a.cron.Remove(id)
	}
	a.cronIDs = a.cronIDs[:0]
	a.cronIDs = append(a.cronIDs, a.cron.Schedule(sweepSched, cron.FuncJob(a.sweepState)))
	if statsSched != nil {
		a.cronIDs = append(a.cronIDs, a.cron.Schedule(statsSched, cron.FuncJob(a.logStats)))
	}
	return nil
}

// sweepState drops expired rate-limit and dedup entries so idle senders do
// not accumulate.
func (a *App) sweepState() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := a.store.Sweep(ctx)
	if err != nil {
		a.log.Warn("state sweep failed", logx.Err(err))
		return
	}
	if n > 0 {
		a.log.Debug("state swept", logx.Int("removed", n))
	}
}

func (a *App) logStats() {
	a.stats.Log(a.log, a.bus.Dropped())
}

func (a *App) stopCron(ctx context.Context) {
	a.cronMu.Lock()
	c := a.cron
	a.cronMu.Unlock()
	if c == nil {
		return
	}
	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		a.log.Warn("cron jobs still running at shutdown")
	}
}
