package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Env holds settings that may come from the process environment. Secrets
// live here so they never have to be written into the config file.
type Env struct {
	DiscordToken  string `env:"DISCORD_BOT_TOKEN"`
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN"`
	ChannelID     string `env:"DISCORD_CHANNEL_ID"`
	GameUsername  string `env:"MINECRAFT_USERNAME"`
	GameEmail     string `env:"MINECRAFT_EMAIL"`
	GamePassword  string `env:"MINECRAFT_PASSWORD"`
	GameAddr      string `env:"GUILDRELAY_GAME_ADDR"`
	LogLevel      string `env:"GUILDRELAY_LOG_LEVEL"`
	StatePath     string `env:"GUILDRELAY_STATE_PATH"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ParseEnv reads Env from the process environment.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// ApplyEnv overlays non-empty environment values onto cfg.
//
// The group token is taken from the variable matching group.driver.
func (c *Config) ApplyEnv(e Env) {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Group.Driver)) {
	case "telegram":
		set(&c.Group.Token, e.TelegramToken)
	default:
		set(&c.Group.Token, e.DiscordToken)
	}
	set(&c.Group.ChannelID, e.ChannelID)
	set(&c.Game.Username, e.GameUsername)
	set(&c.Game.Addr, e.GameAddr)
	set(&c.Logging.Level, e.LogLevel)
	set(&c.State.Path, e.StatePath)
}

// ExpandCommand substitutes ${VAR} references in the game command. Only
// the credential variables are expanded; anything else is left verbatim.
func (e Env) ExpandCommand(args []string) []string {
	vars := map[string]string{
		"MINECRAFT_EMAIL":    e.GameEmail,
		"MINECRAFT_PASSWORD": e.GamePassword,
		"MINECRAFT_USERNAME": e.GameUsername,
	}
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = os.Expand(a, func(name string) string {
			if v, ok := vars[name]; ok {
				return v
			}
			return "${" + name + "}"
		})
	}
	return out
}
