package config

import (
	"strings"

	logx "guildrelay/pkg/logx"
)

// Config is the on-disk relay configuration (YAML or JSON).
//
// All durations are Go duration strings ("500ms", "10s"). Schedules use the
// cron descriptor syntax ("@every 1m") or a 5-field cron expression.
type Config struct {
	Game    GameConfig    `json:"game"`
	Group   GroupConfig   `json:"group"`
	Relay   RelayConfig   `json:"relay"`
	State   StateConfig   `json:"state"`
	Logging LoggingConfig `json:"logging"`
	Stats   StatsConfig   `json:"stats"`
}

// GameConfig selects how the relay reaches the game server.
//
// The exec driver runs a console client (Command) and exchanges chat lines
// over its stdio. The tcp driver dials Addr, a line-oriented chat proxy.
// Command arguments may reference ${MINECRAFT_EMAIL} and
// ${MINECRAFT_PASSWORD} so credentials stay in the environment.
//
// After each connect the adapter checks guild membership and switches the
// bot into guild chat unless SkipGuildCheck is set.
type GameConfig struct {
	Driver          string   `json:"driver"`
	Command         []string `json:"command,omitempty"`
	WorkDir         string   `json:"work_dir,omitempty"`
	Addr            string   `json:"addr,omitempty"`
	DialTimeout     string   `json:"dial_timeout,omitempty"`
	Username        string   `json:"username"`
	MaxLineLength   int      `json:"max_line_length,omitempty"`
	SkipGuildCheck  bool     `json:"skip_guild_check,omitempty"`
	GuildCheckDelay string   `json:"guild_check_delay,omitempty"`
}

type GroupConfig struct {
	Driver    string `json:"driver"`
	Token     string `json:"token,omitempty"`
	ChannelID string `json:"channel_id"`
}

// RelayConfig holds the policy knobs. Zero values mean defaults.
type RelayConfig struct {
	MaxMessageLength int             `json:"max_message_length,omitempty"`
	FallbackSender   string          `json:"fallback_sender,omitempty"`
	RateLimitNotice  string          `json:"rate_limit_notice,omitempty"`
	SendTimeout      string          `json:"send_timeout,omitempty"`
	RateLimit        RateLimitConfig `json:"rate_limit"`
	Dedup            DedupConfig     `json:"dedup"`
}

type RateLimitConfig struct {
	MaxMessages int    `json:"max_messages,omitempty"`
	TimeWindow  string `json:"time_window,omitempty"`
	Cooldown    string `json:"cooldown,omitempty"`
}

type DedupConfig struct {
	TTL string `json:"ttl,omitempty"`
}

// StateConfig selects the store behind rate-limit and dedup state.
type StateConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	SweepEvery  string `json:"sweep_every,omitempty"`
}

type LoggingConfig struct {
	Level   string           `json:"level"`
	Console bool             `json:"console"`
	File    FileLogConfig    `json:"file"`
	Channel ChannelLogConfig `json:"channel"`
}

// FileLogConfig is the rotating file sink. ErrorPath, when set, gets a
// second file holding only error lines.
type FileLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path,omitempty"`
	ErrorPath  string `json:"error_path,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// ChannelLogConfig mirrors warnings into a group channel.
// An empty ChannelID falls back to the bridge channel.
type ChannelLogConfig struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type StatsConfig struct {
	// Every is the schedule of the traffic summary log line. Empty disables it.
	Every string `json:"every,omitempty"`
}

const (
	DefaultStateSweep = "@every 1m"
	DefaultStatsEvery = "@every 10m"
)

// LogConfig converts the logging section for logx.
func (c *Config) LogConfig() logx.Config {
	ch := c.Logging.Channel
	id := strings.TrimSpace(ch.ChannelID)
	if id == "" {
		id = strings.TrimSpace(c.Group.ChannelID)
	}
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{
			Enabled:    c.Logging.File.Enabled,
			Path:       c.Logging.File.Path,
			ErrorPath:  c.Logging.File.ErrorPath,
			MaxSizeMB:  c.Logging.File.MaxSizeMB,
			MaxBackups: c.Logging.File.MaxBackups,
			MaxAgeDays: c.Logging.File.MaxAgeDays,
			Compress:   c.Logging.File.Compress,
		},
		Channel: logx.ChannelConfig{
			Enabled:    ch.Enabled,
			ChannelID:  id,
			MinLevel:   ch.MinLevel,
			RatePerSec: ch.RatePerSec,
		},
	}
}
