// Package telegram is the group adapter for a Telegram group chat.
//
// Channel ids are Telegram chat ids in decimal ("-1001234567890").
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "guildrelay/internal/runtime/supervisor"
	kit "guildrelay/internal/transport"
	logx "guildrelay/pkg/logx"
)

const telegramTextLimit = 4000

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	out     atomic.Value // chan<- kit.GroupMessage
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	dropped atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout, AllowedUpdates: []string{"message"}},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{log: log, bot: b}
	var nilOut chan<- kit.GroupMessage
	a.out.Store(nilOut)

	b.Handle(tele.OnText, func(c tele.Context) error {
		if m := c.Message(); m != nil && m.Sender != nil {
			a.deliver(toGroupMessage(m))
		}
		return nil
	})
	return a, nil
}

func toGroupMessage(m *tele.Message) kit.GroupMessage {
	name := m.Sender.Username
	if name == "" {
		name = strings.TrimSpace(m.Sender.FirstName + " " + m.Sender.LastName)
	}
	var chatID int64
	if m.Chat != nil {
		chatID = m.Chat.ID
	}
	return kit.GroupMessage{
		ID:             strconv.Itoa(m.ID),
		ChannelID:      strconv.FormatInt(chatID, 10),
		AuthorID:       strconv.FormatInt(m.Sender.ID, 10),
		AuthorUsername: name,
		AuthorIsBot:    m.Sender.IsBot,
		Content:        m.Text,
		ReceivedAt:     m.Time(),
	}
}

func (a *Adapter) deliver(msg kit.GroupMessage) {
	out, _ := a.out.Load().(chan<- kit.GroupMessage)
	if out == nil {
		return
	}
	select {
	case out <- msg:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.GroupMessage) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	sup := a.sup

	sup.Go0("telegram.drop_report", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				if n := a.dropped.Swap(0); n > 0 {
					a.log.Warn("telegram messages dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})
	sup.Go0("telegram.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start blocks until Stop; restart it if it returns early.
	sup.GoRestart("telegram.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	}, rtsup.WithBackoff(500*time.Millisecond, 10*time.Second), rtsup.WithRestartOnCleanExit(true))
	return nil
}

// Stop never waits longer than a short grace window; a long poll in
// flight is abandoned.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	a.running = false
	var nilOut chan<- kit.GroupMessage
	a.out.Store(nilOut)
	a.runMu.Unlock()
	if sup == nil {
		return nil
	}

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Stop(wctx); err != nil {
		a.log.Warn("telegram stop", logx.Err(err))
	}
	return nil
}

func (a *Adapter) Send(ctx context.Context, channelID, text string) error {
	return a.send(ctx, channelID, text, nil)
}

func (a *Adapter) Reply(ctx context.Context, to kit.GroupMessage, text string) error {
	chatID, err := parseChatID(to.ChannelID)
	if err != nil {
		return err
	}
	id, err := strconv.Atoi(to.ID)
	if err != nil {
		return fmt.Errorf("telegram message id %q: %w", to.ID, err)
	}
	return a.send(ctx, to.ChannelID, text, &tele.Message{ID: id, Chat: &tele.Chat{ID: chatID}})
}

func (a *Adapter) send(ctx context.Context, channelID, text string, replyTo *tele.Message) error {
	a.runMu.Lock()
	running := a.running
	a.runMu.Unlock()
	if !running {
		return kit.ErrNotRunning
	}
	chatID, err := parseChatID(channelID)
	if err != nil {
		return err
	}
	chat := &tele.Chat{ID: chatID}
	for i, chunk := range splitTelegramText(toHTML(text), telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		opt := &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}
		if i == 0 {
			opt.ReplyTo = replyTo
		}
		if _, err := a.bot.Send(chat, chunk, opt); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram chat id %q: %w", s, err)
	}
	return id, nil
}

var boldRe = regexp.MustCompile(`\*\*(.+?)\*\*`)

// toHTML escapes text for HTML parse mode and renders **bold** spans, the
// only markup the relay emits.
func toHTML(s string) string {
	return boldRe.ReplaceAllString(html.EscapeString(s), "<b>$1</b>")
}

// splitTelegramText splits long messages, preferring newline boundaries
// and never cutting inside a tag.
func splitTelegramText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
