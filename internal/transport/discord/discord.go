// Package discord is the group adapter for a Discord text channel.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	kit "guildrelay/internal/transport"
	logx "guildrelay/pkg/logx"
)

// messageLimit is Discord's maximum message length in characters.
const messageLimit = 2000

type Config struct {
	Token string
}

type Adapter struct {
	log logx.Logger
	s   *discordgo.Session

	out     atomic.Value // chan<- kit.GroupMessage
	runMu   sync.Mutex
	running bool
	selfID  atomic.Value // string

	dropped  atomic.Uint64
	stopDrop context.CancelFunc
}

// noMentions keeps relayed text from pinging @everyone, roles or users.
var noMentions = &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	s, err := discordgo.New(token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	s.ShouldReconnectOnError = true

	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{log: log, s: s}
	var nilOut chan<- kit.GroupMessage
	a.out.Store(nilOut)
	a.selfID.Store("")

	s.AddHandler(a.onReady)
	s.AddHandler(a.onMessageCreate)
	return a, nil
}

func (a *Adapter) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		a.selfID.Store(r.User.ID)
		a.log.Info("discord ready", logx.String("user", r.User.Username), logx.Int("guilds", len(r.Guilds)))
	}
}

func (a *Adapter) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	a.deliver(toGroupMessage(m.Message, a.selfID.Load().(string)))
}

// toGroupMessage maps a Discord message. The bot's own messages are flagged
// as bot-authored even if Discord does not mark the account as a bot.
func toGroupMessage(m *discordgo.Message, selfID string) kit.GroupMessage {
	at := m.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	return kit.GroupMessage{
		ID:             m.ID,
		ChannelID:      m.ChannelID,
		AuthorID:       m.Author.ID,
		AuthorUsername: m.Author.Username,
		AuthorIsBot:    m.Author.Bot || (selfID != "" && m.Author.ID == selfID),
		Content:        m.Content,
		ReceivedAt:     at,
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

// Start opens the gateway. discordgo reconnects on its own after that.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.GroupMessage) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.out.Store(out)
	if err := a.s.Open(); err != nil {
		var nilOut chan<- kit.GroupMessage
		a.out.Store(nilOut)
		return fmt.Errorf("discord open: %w", err)
	}
	a.running = true

	dctx, cancel := context.WithCancel(ctx)
	a.stopDrop = cancel
	go func() {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-dctx.Done():
				return
			case <-t.C:
				if n := a.dropped.Swap(0); n > 0 {
					a.log.Warn("discord messages dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	}()
	return nil
}

func (a *Adapter) Stop(context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	var nilOut chan<- kit.GroupMessage
	a.out.Store(nilOut)
	if a.stopDrop != nil {
		a.stopDrop()
	}
	return a.s.Close()
}

func (a *Adapter) Send(ctx context.Context, channelID, text string) error {
	return a.send(ctx, channelID, text, nil)
}

// Reply answers a message in place, quoting it.
func (a *Adapter) Reply(ctx context.Context, to kit.GroupMessage, text string) error {
	ref := &discordgo.MessageReference{MessageID: to.ID, ChannelID: to.ChannelID}
	return a.send(ctx, to.ChannelID, text, ref)
}

func (a *Adapter) send(ctx context.Context, channelID, text string, ref *discordgo.MessageReference) error {
	a.runMu.Lock()
	running := a.running
	a.runMu.Unlock()
	if !running {
		return kit.ErrNotRunning
	}
	for i, chunk := range splitText(text, messageLimit) {
		msg := &discordgo.MessageSend{Content: chunk, AllowedMentions: noMentions}
		if i == 0 {
			msg.Reference = ref
		}
		if _, err := a.s.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

// splitText cuts s into chunks of at most limit runes, preferring newlines.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for len(rs) > 0 {
		end := min(limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[:end]), "\n"))
		rs = rs[end:]
	}
	return out
}
