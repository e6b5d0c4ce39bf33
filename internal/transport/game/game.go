// Package game connects the relay to the game server through a
// line-oriented console: a headless client process (exec driver) or a TCP
// chat proxy (tcp driver). Every line read is one chat event; every line
// written is one chat command sent as the bot account.
package game

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "guildrelay/internal/runtime/supervisor"
	kit "guildrelay/internal/transport"
	logx "guildrelay/pkg/logx"
)

const (
	DriverExec = "exec"
	DriverTCP  = "tcp"

	maxLineBytes = 64 * 1024

	defaultGuildCheckDelay = 2 * time.Second
	controlSendTimeout     = 5 * time.Second
)

type Config struct {
	Driver      string
	Command     []string
	WorkDir     string
	Addr        string
	DialTimeout time.Duration
	Username    string

	// SkipGuildCheck disables the post-connect guild probe and the switch
	// to guild chat.
	SkipGuildCheck bool
	// GuildCheckDelay is the wait between connect and the probe.
	GuildCheckDelay time.Duration
}

// session is one live console connection.
type session interface {
	io.Reader
	io.Writer
	Close() error
}

type Adapter struct {
	cfg Config
	log logx.Logger

	dial func(ctx context.Context) (session, error)

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	writeMu sync.Mutex
	cur     session
	guild   *guildTracker

	dropped atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.GuildCheckDelay <= 0 {
		cfg.GuildCheckDelay = defaultGuildCheckDelay
	}
	a := &Adapter{cfg: cfg, log: log, guild: &guildTracker{}}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverExec:
		if len(cfg.Command) == 0 {
			return nil, errors.New("game: exec driver needs a command")
		}
		a.dial = a.dialExec
	case DriverTCP:
		if strings.TrimSpace(cfg.Addr) == "" {
			return nil, errors.New("game: tcp driver needs an address")
		}
		a.dial = a.dialTCP
	default:
		return nil, fmt.Errorf("%w: game %q", kit.ErrUnknownDriver, cfg.Driver)
	}
	return a, nil
}

func (a *Adapter) Username() string { return a.cfg.Username }

// Start connects in the background and keeps reconnecting until ctx is
// cancelled or Stop is called.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.GameChat) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	sup := a.sup

	sup.Go0("game.drop_report", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDrops(cap(out))
				return
			case <-t.C:
				a.reportDrops(cap(out))
			}
		}
	})

	sup.GoRestart("game.session", func(c context.Context) error {
		return a.runSession(c, out)
	}, rtsup.WithBackoff(time.Second, time.Minute), rtsup.WithRestartOnCleanExit(true))
	return nil
}

func (a *Adapter) reportDrops(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("game lines dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

func (a *Adapter) runSession(ctx context.Context, out chan<- kit.GameChat) error {
	s, err := a.dial(ctx)
	if err != nil {
		return err
	}
	guild := &guildTracker{}
	a.writeMu.Lock()
	a.cur = s
	a.guild = guild
	a.writeMu.Unlock()
	a.log.Info("game session connected", logx.String("driver", a.driverName()))

	if !a.cfg.SkipGuildCheck {
		probe := time.AfterFunc(a.cfg.GuildCheckDelay, func() {
			a.sendControl(ctx, guildProbeCommand)
		})
		defer probe.Stop()
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer func() {
		stop()
		a.writeMu.Lock()
		if a.cur == s {
			a.cur = nil
		}
		a.writeMu.Unlock()
		_ = s.Close()
	}()

	sc := bufio.NewScanner(s)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for sc.Scan() {
		raw := sc.Text()
		clean := formatCodeRe.ReplaceAllString(raw, "")
		a.handleNotice(ctx, guild, ClassifyLine(clean), clean)
		ev, ok := ParseLine(raw, time.Now())
		if !ok {
			continue
		}
		select {
		case out <- ev:
		default:
			a.dropped.Add(1)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("game read: %w", err)
	}
	a.log.Warn("game session ended")
	return nil
}

// handleNotice logs server status replies and completes the guild
// handshake. Kicks are followed by the session ending, so the supervisor
// reconnects with backoff.
func (a *Adapter) handleNotice(ctx context.Context, g *guildTracker, n Notice, line string) {
	if n == NoticeNone {
		return
	}
	if !a.cfg.SkipGuildCheck && g.observe(n) {
		a.log.Info("bot is in a guild; switching to guild chat")
		a.sendControl(ctx, guildSwitchCommand)
	}
	switch n {
	case NoticeNotInGuild:
		a.log.Error("bot is not in a guild; add the account to a guild first", logx.String("user", a.cfg.Username))
	case NoticeGuildChannel:
		a.log.Info("bot is talking in guild chat")
	case NoticeKicked:
		a.log.Warn("bot was kicked", logx.String("reason", line))
	case NoticeBanned:
		a.log.Error("bot is banned from the server", logx.String("reason", line))
	}
}

// sendControl writes a handshake command. Failures are logged only: the
// next session retries the handshake.
func (a *Adapter) sendControl(ctx context.Context, cmd string) {
	sctx, cancel := context.WithTimeout(ctx, controlSendTimeout)
	defer cancel()
	if err := a.SendChat(sctx, cmd); err != nil {
		a.log.Warn("game control command failed", logx.String("cmd", cmd), logx.Err(err))
	}
}

// GuildStatus reports the guild state seen by the current session.
func (a *Adapter) GuildStatus() GuildStatus {
	a.writeMu.Lock()
	g := a.guild
	a.writeMu.Unlock()
	return g.status()
}

func (a *Adapter) driverName() string {
	if d := strings.ToLower(strings.TrimSpace(a.cfg.Driver)); d != "" {
		return d
	}
	return DriverExec
}

// SendChat writes one chat line. It fails with ErrNotRunning while no
// session is connected; the relay does not queue.
func (a *Adapter) SendChat(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.cur == nil {
		return kit.ErrNotRunning
	}
	if dl, ok := a.cur.(interface{ SetWriteDeadline(time.Time) error }); ok {
		if t, has := ctx.Deadline(); has {
			_ = dl.SetWriteDeadline(t)
			defer dl.SetWriteDeadline(time.Time{})
		}
	}
	if _, err := io.WriteString(a.cur, commandLine(text)+"\n"); err != nil {
		return fmt.Errorf("game write: %w", err)
	}
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	a.running = false
	a.runMu.Unlock()
	if sup == nil {
		return nil
	}
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("game stop", logx.Err(err))
	}
	return nil
}

func (a *Adapter) dialTCP(ctx context.Context) (session, error) {
	d := net.Dialer{Timeout: a.cfg.DialTimeout, KeepAlive: 30 * time.Second}
	c, err := d.DialContext(ctx, "tcp", a.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", a.cfg.Addr, err)
	}
	return c, nil
}

// procSession reads the client's stdout and writes its stdin. Close stops
// the process.
type procSession struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stdin  io.WriteCloser
	once   sync.Once
}

func (p *procSession) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *procSession) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *procSession) Close() error {
	var err error
	p.once.Do(func() {
		_ = p.stdin.Close()
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		err = p.cmd.Wait()
	})
	return err
}

func (a *Adapter) dialExec(ctx context.Context) (session, error) {
	cmd := exec.CommandContext(ctx, a.cfg.Command[0], a.cfg.Command[1:]...)
	cmd.Dir = a.cfg.WorkDir
	cmd.Stderr = &logWriter{log: a.log}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", a.cfg.Command[0], err)
	}
	return &procSession{cmd: cmd, stdout: stdout, stdin: stdin}, nil
}

// logWriter forwards client stderr to the debug log line by line.
type logWriter struct {
	log logx.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, l := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			w.log.Debug("game client stderr", logx.String("line", l))
		}
	}
	return len(p), nil
}
