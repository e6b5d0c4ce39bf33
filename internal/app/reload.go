package app

import (
	"context"
	"strings"

	"guildrelay/internal/config"
	logx "guildrelay/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, updates <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			a.applyConfig(last, cfg)
			last = cfg
		}
	}
}

// applyConfig pushes the live-tunable parts of cfg into the running
// components. Adapter and store settings need a restart.
func (a *App) applyConfig(prev, cfg *config.Config) {
	sections, attrs, needRestart := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Info("config change", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
	if len(needRestart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(needRestart, ",")))
	}

	r, err := cfg.Resolve()
	if err != nil {
		a.log.Warn("invalid durations in reloaded config; keeping previous", logx.Err(err))
		return
	}

	a.logs.Apply(cfg.LogConfig())
	a.limiter.Apply(rateLimitConfig(cfg, r))
	a.dedup.SetTTL(r.DedupTTL)
	a.router.Apply(routerConfig(cfg, r))
	if err := a.scheduleJobs(cfg); err != nil {
		a.log.Warn("reschedule failed; keeping previous jobs", logx.Err(err))
	}
}
