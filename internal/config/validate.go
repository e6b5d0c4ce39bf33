package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Resolved carries the parsed durations of a Config.
type Resolved struct {
	GameDialTimeout  time.Duration
	GuildCheckDelay  time.Duration
	SendTimeout      time.Duration
	RateWindow       time.Duration
	RateCooldown     time.Duration
	DedupTTL         time.Duration
	StateBusyTimeout time.Duration
}

// Resolve parses every duration field. Zero means "use the component default".
func (c *Config) Resolve() (Resolved, error) {
	var (
		r    Resolved
		errs []error
		err  error
	)
	parse := func(dst *time.Duration, path, raw string) {
		if *dst, err = ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	parse(&r.GameDialTimeout, "game.dial_timeout", c.Game.DialTimeout)
	parse(&r.GuildCheckDelay, "game.guild_check_delay", c.Game.GuildCheckDelay)
	parse(&r.SendTimeout, "relay.send_timeout", c.Relay.SendTimeout)
	parse(&r.RateWindow, "relay.rate_limit.time_window", c.Relay.RateLimit.TimeWindow)
	parse(&r.RateCooldown, "relay.rate_limit.cooldown", c.Relay.RateLimit.Cooldown)
	parse(&r.DedupTTL, "relay.dedup.ttl", c.Relay.Dedup.TTL)
	parse(&r.StateBusyTimeout, "state.busy_timeout", c.State.BusyTimeout)
	return r, errors.Join(errs...)
}

// Validate reports every problem found in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch strings.ToLower(strings.TrimSpace(cfg.Game.Driver)) {
	case "", "exec":
		if len(cfg.Game.Command) == 0 || strings.TrimSpace(cfg.Game.Command[0]) == "" {
			add("game.command: required for the exec driver")
		}
	case "tcp":
		if strings.TrimSpace(cfg.Game.Addr) == "" {
			add("game.addr: required for the tcp driver")
		}
	default:
		add("game.driver: unknown driver %q", cfg.Game.Driver)
	}
	if strings.TrimSpace(cfg.Game.Username) == "" {
		add("game.username: required")
	}
	if cfg.Game.MaxLineLength < 0 {
		add("game.max_line_length: must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Group.Driver)) {
	case "", "discord", "telegram":
	default:
		add("group.driver: unknown driver %q", cfg.Group.Driver)
	}
	if strings.TrimSpace(cfg.Group.Token) == "" {
		add("group.token: required (set it in the file or the environment)")
	}
	if strings.TrimSpace(cfg.Group.ChannelID) == "" {
		add("group.channel_id: required")
	}

	if cfg.Relay.MaxMessageLength < 0 {
		add("relay.max_message_length: must be >= 0")
	}
	if cfg.Relay.RateLimit.MaxMessages < 0 {
		add("relay.rate_limit.max_messages: must be >= 0")
	}
	if _, err := cfg.Resolve(); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.State.Driver)) {
	case "", "memory", "mem":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.State.Path) == "" {
			add("state.path: required for the sqlite driver")
		}
	default:
		add("state.driver: unknown driver %q", cfg.State.Driver)
	}
	if _, err := ParseScheduleField("state.sweep_every", cfg.State.SweepEvery); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseScheduleField("stats.every", cfg.Stats.Every); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add("logging.file.path: required when file logging is enabled")
	}
	if f := cfg.Logging.File; f.MaxSizeMB < 0 || f.MaxBackups < 0 || f.MaxAgeDays < 0 {
		add("logging.file: max_size_mb, max_backups and max_age_days must be >= 0")
	}
	if cfg.Logging.Channel.RatePerSec < 0 {
		add("logging.channel.rate_per_sec: must be >= 0")
	}

	return errors.Join(errs...)
}
