package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"guildrelay/internal/app"
	"guildrelay/internal/config"
)

func main() {
	var (
		cfgPath string
		envFile string
		check   bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.StringVar(&envFile, "env-file", ".env", "comma-separated .env files to load (missing files are skipped)")
	flag.BoolVar(&check, "check", false, "validate the config and exit")
	flag.Parse()

	if err := config.LoadDotEnv(strings.Split(envFile, ",")...); err != nil {
		fatal(err)
	}
	env, err := config.ParseEnv()
	if err != nil {
		fatal(err)
	}
	cfgm := config.NewManager(cfgPath, env)
	if _, err := cfgm.Load(); err != nil {
		fatal(fmt.Errorf("config %s: %w", cfgPath, err))
	}
	if check {
		fmt.Println("config ok")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgm, env)
	if err != nil {
		fatal(err)
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		fatal(err)
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	stopErr := a.Stop(stopCtx)
	if err := a.Err(); err != nil {
		fatal(err)
	}
	if stopErr != nil {
		fatal(stopErr)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "fatal:", err)
	os.Exit(1)
}
