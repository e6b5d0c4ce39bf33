// Package app wires the relay together: config, logging, state store,
// adapters, router, maintenance jobs and service-manager notifications.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"guildrelay/internal/config"
	"guildrelay/internal/eventbus"
	"guildrelay/internal/relay"
	"guildrelay/internal/runtime/supervisor"
	"guildrelay/internal/state"
	kit "guildrelay/internal/transport"
	logx "guildrelay/pkg/logx"
)

const inboxSize = 256

type App struct {
	cfgm *config.Manager
	env  config.Env

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   state.Store
	limiter *relay.RateLimiter
	dedup   *relay.DedupGuard
	router  *relay.Router
	stats   *Stats

	game  kit.GameAdapter
	group kit.GroupAdapter

	gameIn  chan kit.GameChat
	groupIn chan kit.GroupMessage

	sup *supervisor.Supervisor

	cronMu  sync.Mutex
	cron    *cron.Cron
	cronIDs []cron.EntryID

	stopOnce sync.Once
}

type Option func(*options)

type options struct {
	game  kit.GameAdapter
	group kit.GroupAdapter
	now   func() time.Time
}

// WithGameAdapter replaces the configured game driver.
func WithGameAdapter(g kit.GameAdapter) Option { return func(o *options) { o.game = g } }

// WithGroupAdapter replaces the configured group driver.
func WithGroupAdapter(g kit.GroupAdapter) Option { return func(o *options) { o.group = g } }

// WithClock overrides the time source of the relay policies.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// New builds the app from a loaded config manager. Nothing connects until
// Start.
func New(cfgm *config.Manager, e config.Env, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}

	cfg := cfgm.Get()
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	r, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level)

	group := o.group
	if group == nil {
		if group, err = openGroup(cfg, bootLog.With(logx.String("comp", "group"))); err != nil {
			return nil, err
		}
	}

	// The channel sink sends through the group adapter, so logging comes
	// up after it.
	logs, root := logx.New(cfg.LogConfig(), group)
	log := root.With(logx.String("comp", "app"))

	gameAd := o.game
	if gameAd == nil {
		if gameAd, err = openGame(cfg, r, e, root.With(logx.String("comp", "game"))); err != nil {
			_ = logs.Close()
			return nil, err
		}
	}

	store, err := state.Open(stateConfig(cfg, r), root.With(logx.String("comp", "state")), state.WithClock(o.now))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open state: %w", err)
	}

	bus := eventbus.New()
	relayLog := root.With(logx.String("comp", "relay"))
	limiter := relay.NewRateLimiter(store, rateLimitConfig(cfg, r), o.now, relayLog)
	dedup := relay.NewDedupGuard(store, r.DedupTTL, relayLog)
	router := relay.NewRouter(routerConfig(cfg, r), relay.Deps{
		Game:    gameAd,
		Group:   group,
		Limiter: limiter,
		Dedup:   dedup,
		Bus:     bus,
		Logger:  relayLog,
		Now:     o.now,
	})

	return &App{
		cfgm:    cfgm,
		env:     e,
		log:     log,
		logs:    logs,
		bus:     bus,
		store:   store,
		limiter: limiter,
		dedup:   dedup,
		router:  router,
		stats:   NewStats(),
		game:    gameAd,
		group:   group,
		gameIn:  make(chan kit.GameChat, inboxSize),
		groupIn: make(chan kit.GroupMessage, inboxSize),
	}, nil
}

func (a *App) Router() *relay.Router { return a.router }

func (a *App) Stats() *Stats { return a.stats }

// Done is closed once the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start connects both adapters and launches the background tasks.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	events, unsub := a.bus.Subscribe(inboxSize, relay.EventPrefix)
	a.sup.Go0("stats.collect", func(c context.Context) {
		defer unsub()
		a.stats.Consume(c, events)
	})

	if err := a.group.Start(a.sup.Context(), a.groupIn); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("start group adapter: %w", err)
	}
	if err := a.game.Start(a.sup.Context(), a.gameIn); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("start game adapter: %w", err)
	}

	a.sup.Go0("relay.dispatch", a.dispatch)

	if err := a.startCron(a.cfgm.Get()); err != nil {
		a.sup.Cancel()
		return err
	}

	updates, unsubCfg := a.cfgm.Subscribe(1)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer unsubCfg()
		a.reloadLoop(c, updates)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.startWatchdog()
	notifyReady(a.log)
	a.log.Info("relay started",
		logx.String("game_user", a.game.Username()),
		logx.String("channel_id", a.cfgm.Get().Group.ChannelID),
	)
	return nil
}

// Stop shuts everything down in reverse order, each step bounded by ctx.
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		notifyStopping(a.log)
		a.log.Info("relay stopping")

		a.stopCron(ctx)
		if a.sup != nil {
			a.sup.Cancel()
		}
		if err := a.game.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop game: %w", err))
		}
		if err := a.group.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop group: %w", err))
		}
		if a.sup != nil {
			if err := a.sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("tasks did not stop cleanly", logx.Err(err))
			}
		}
		a.stats.Log(a.log, a.bus.Dropped())
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close state: %w", err))
		}
		_ = a.logs.Close()
	})
	return errors.Join(errs...)
}

// dispatch is the single consumer of both inboxes, so pipeline runs never
// overlap.
func (a *App) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.gameIn:
			a.safely(relay.GameToGroup, func() { a.router.HandleGameChat(ctx, ev) })
		case msg := <-a.groupIn:
			a.safely(relay.GroupToGame, func() { a.router.HandleGroupMessage(ctx, msg) })
		}
	}
}

func (a *App) safely(dir relay.Direction, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("relay pipeline panicked", logx.String("dir", string(dir)), logx.Any("panic", r))
		}
	}()
	fn()
}
