package app

import (
	"fmt"
	"strings"

	"guildrelay/internal/config"
	"guildrelay/internal/relay"
	"guildrelay/internal/state"
	kit "guildrelay/internal/transport"
	"guildrelay/internal/transport/discord"
	"guildrelay/internal/transport/game"
	"guildrelay/internal/transport/telegram"
	logx "guildrelay/pkg/logx"
)

func openGame(cfg *config.Config, r config.Resolved, e config.Env, log logx.Logger) (kit.GameAdapter, error) {
	return game.New(game.Config{
		Driver:      cfg.Game.Driver,
		Command:     e.ExpandCommand(cfg.Game.Command),
		WorkDir:     cfg.Game.WorkDir,
		Addr:        cfg.Game.Addr,
		DialTimeout: r.GameDialTimeout,
		Username:    cfg.Game.Username,

		SkipGuildCheck:  cfg.Game.SkipGuildCheck,
		GuildCheckDelay: r.GuildCheckDelay,
	}, log)
}

func openGroup(cfg *config.Config, log logx.Logger) (kit.GroupAdapter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Group.Driver)) {
	case "", "discord":
		return discord.New(discord.Config{Token: cfg.Group.Token}, log)
	case "telegram":
		return telegram.New(telegram.Config{Token: cfg.Group.Token}, log)
	default:
		return nil, fmt.Errorf("%w: group %q", kit.ErrUnknownDriver, cfg.Group.Driver)
	}
}

func stateConfig(cfg *config.Config, r config.Resolved) state.Config {
	return state.Config{Driver: cfg.State.Driver, Path: cfg.State.Path, BusyTimeout: r.StateBusyTimeout}
}

func rateLimitConfig(cfg *config.Config, r config.Resolved) relay.RateLimitConfig {
	return relay.RateLimitConfig{
		MaxMessages: cfg.Relay.RateLimit.MaxMessages,
		TimeWindow:  r.RateWindow,
		Cooldown:    r.RateCooldown,
	}
}

func routerConfig(cfg *config.Config, r config.Resolved) relay.Config {
	return relay.Config{
		BotUsername:       cfg.Game.Username,
		BridgeChannelID:   cfg.Group.ChannelID,
		MaxMessageLength:  cfg.Relay.MaxMessageLength,
		MaxGameLineLength: cfg.Game.MaxLineLength,
		FallbackSender:    cfg.Relay.FallbackSender,
		RateLimitNotice:   cfg.Relay.RateLimitNotice,
		SendTimeout:       r.SendTimeout,
	}
}
