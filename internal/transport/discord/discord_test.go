package discord

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	logx "guildrelay/pkg/logx"
)

func TestToGroupMessage(t *testing.T) {
	t.Parallel()
	at := time.Unix(1_700_000_000, 0)
	m := &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		Content:   "hello",
		Timestamp: at,
		Author:    &discordgo.User{ID: "u1", Username: "alice"},
	}
	got := toGroupMessage(m, "bot-id")
	if got.ID != "m1" || got.ChannelID != "c1" || got.AuthorID != "u1" || got.AuthorUsername != "alice" || got.AuthorIsBot || !got.ReceivedAt.Equal(at) {
		t.Fatalf("got %+v", got)
	}

	m.Author = &discordgo.User{ID: "bot-id", Username: "relay"}
	if !toGroupMessage(m, "bot-id").AuthorIsBot {
		t.Fatal("own messages must be flagged as bot-authored")
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(long, 10)
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("got %q", got)
	}
	for _, c := range splitText(strings.Repeat("x", 25), 10) {
		if len(c) > 10 {
			t.Fatalf("chunk too long: %d", len(c))
		}
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("empty token should fail")
	}
}
