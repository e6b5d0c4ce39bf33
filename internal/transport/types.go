package transport

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotRunning    = errors.New("adapter not running")
	ErrUnknownDriver = errors.New("unknown transport driver")
)

// GameChat is one raw chat line from the game client.
//
// Username is the speaker when the client could attribute the line to a
// player (vanilla "<name> text" chat); server-formatted lines such as guild
// chat carry an empty Username and the whole line in Message.
type GameChat struct {
	Username   string
	Message    string
	ReceivedAt time.Time
}

// GroupMessage is one message posted in a group-platform channel.
type GroupMessage struct {
	ID             string
	ChannelID      string
	AuthorID       string
	AuthorUsername string
	AuthorIsBot    bool
	Content        string
	ReceivedAt     time.Time
}

// GameAdapter connects to the game world. Start must not block; incoming
// lines are delivered to out until ctx is cancelled or Stop is called.
type GameAdapter interface {
	Start(ctx context.Context, out chan<- GameChat) error
	Stop(ctx context.Context) error

	// SendChat writes one chat line (or command) as the bot account.
	SendChat(ctx context.Context, text string) error
	// Username is the bot's own in-game name.
	Username() string
}

// GroupAdapter connects to the group-messaging platform.
type GroupAdapter interface {
	Start(ctx context.Context, out chan<- GroupMessage) error
	Stop(ctx context.Context) error

	Send(ctx context.Context, channelID, text string) error
	Reply(ctx context.Context, to GroupMessage, text string) error
}
