package config

import (
	"reflect"
	"sort"
	"strings"

	logx "guildrelay/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ, safe attrs for
// logging (never a token or credential), and the subset of changed
// sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, needRestart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if !reflect.DeepEqual(oldCfg.Game, newCfg.Game) {
		changed = append(changed, "game")
		needRestart = append(needRestart, "game")
		attrs = append(attrs,
			logx.String("game.driver", newCfg.Game.Driver),
			logx.String("game.username", newCfg.Game.Username),
			logx.Int("game.max_line_length", newCfg.Game.MaxLineLength),
			logx.Bool("game.skip_guild_check", newCfg.Game.SkipGuildCheck),
		)
	}

	og, ng := oldCfg.Group, newCfg.Group
	if og.Driver != ng.Driver || og.ChannelID != ng.ChannelID || og.Token != ng.Token {
		changed = append(changed, "group")
		needRestart = append(needRestart, "group")
		attrs = append(attrs,
			logx.String("group.driver", ng.Driver),
			logx.String("group.channel_id", ng.ChannelID),
			logx.Bool("group.token_changed", og.Token != ng.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Relay, newCfg.Relay) {
		changed = append(changed, "relay")
		r := newCfg.Relay
		attrs = append(attrs,
			logx.Int("relay.max_message_length", r.MaxMessageLength),
			logx.Int("relay.rate_limit.max_messages", r.RateLimit.MaxMessages),
			logx.String("relay.rate_limit.time_window", strings.TrimSpace(r.RateLimit.TimeWindow)),
			logx.String("relay.rate_limit.cooldown", strings.TrimSpace(r.RateLimit.Cooldown)),
			logx.String("relay.dedup.ttl", strings.TrimSpace(r.Dedup.TTL)),
		)
	}

	ost, nst := oldCfg.State, newCfg.State
	if ost.Driver != nst.Driver || ost.Path != nst.Path || ost.BusyTimeout != nst.BusyTimeout {
		changed = append(changed, "state")
		needRestart = append(needRestart, "state")
		attrs = append(attrs,
			logx.String("state.driver", nst.Driver),
			logx.Bool("state.path_set", strings.TrimSpace(nst.Path) != ""),
		)
	}
	if ost.SweepEvery != nst.SweepEvery || oldCfg.Stats != newCfg.Stats {
		changed = append(changed, "schedule")
		attrs = append(attrs,
			logx.String("state.sweep_every", nst.SweepEvery),
			logx.String("stats.every", newCfg.Stats.Every),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Int("logging.file_max_size_mb", newCfg.Logging.File.MaxSizeMB),
			logx.Bool("logging.channel_enabled", newCfg.Logging.Channel.Enabled),
		)
	}

	sort.Strings(changed)
	sort.Strings(needRestart)
	return changed, attrs, needRestart
}
