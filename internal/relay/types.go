package relay

import (
	"time"
)

// Platform names the side of the relay an event came from.
type Platform string

const (
	PlatformGame  Platform = "game"
	PlatformGroup Platform = "group"
)

// ChatEvent is the per-message value the pipelines work on. It lives only
// for the duration of one Handle call.
type ChatEvent struct {
	Source     Platform
	Sender     string
	RawText    string
	ReceivedAt time.Time
}

// Fingerprint identifies a message for loop suppression. Two fingerprints
// are equal iff source, sanitized sender and sanitized text are equal.
type Fingerprint string

// NewFingerprint builds "platform:sender:content".
func NewFingerprint(source Platform, sender, content string) Fingerprint {
	return Fingerprint(string(source) + ":" + sender + ":" + content)
}

// Outcome is the result of one pipeline run.
type Outcome string

const (
	OutcomeForwarded   Outcome = "forwarded"
	OutcomeSelf        Outcome = "self"
	OutcomeNotGuild    Outcome = "not_guild_chat"
	OutcomeFiltered    Outcome = "filtered"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeEmpty       Outcome = "empty"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeSendFailed  Outcome = "send_failed"
)

// Direction labels which pipeline produced an Outcome.
type Direction string

const (
	GameToGroup Direction = "game_to_group"
	GroupToGame Direction = "group_to_game"
)

// Event is published on the bus (type "relay.<outcome>") after every
// pipeline run.
type Event struct {
	Direction Direction `json:"direction"`
	Outcome   Outcome   `json:"outcome"`
	Sender    string    `json:"sender,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// EventPrefix prefixes bus event types published by the router.
const EventPrefix = "relay."
