package relay

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxMessageLength bounds relayed text when no limit is configured.
	DefaultMaxMessageLength = 256
	// DefaultFallbackSender replaces a display name that escapes to nothing.
	DefaultFallbackSender = "DiscordUser"

	ellipsis = "..."
)

// commandSymbols start a command on the game server when they lead a line.
const commandSymbols = `/\!@#$%^&*()`

// reservedCommands are game commands that must never survive in a sender
// name pasted into a /gc line.
var reservedCommands = []string{
	"help", "list", "me", "msg", "tell", "w", "whisper", "teammsg", "tm",
	"say", "team", "gc", "guild", "party", "p", "reply", "r",
}

var (
	reservedCommandRe = regexp.MustCompile(`(?i)\b(?:` + strings.Join(reservedCommands, "|") + `)\b`)
	spaceRunRe        = regexp.MustCompile(`\s+`)
)

// SanitizeMessage strips C0/C1 control characters, trims surrounding
// whitespace and bounds the result to maxLength runes, marking truncation
// with "...". It always returns a string, possibly empty.
func SanitizeMessage(text string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}

	text = strings.Map(func(r rune) rune {
		if isControl(r) {
			return -1
		}
		return r
	}, text)
	text = strings.TrimSpace(text)

	if utf8.RuneCountInString(text) <= maxLength {
		return text
	}
	rs := []rune(text)
	if maxLength <= len(ellipsis) {
		return string(rs[:maxLength])
	}
	return string(rs[:maxLength-len(ellipsis)]) + ellipsis
}

func isControl(r rune) bool {
	return (r >= 0x00 && r <= 0x1F) || (r >= 0x7F && r <= 0x9F)
}

// EscapeSenderName neutralizes command syntax in a display name. The steps
// run in a fixed order (leading symbol, every symbol, reserved words) so a
// name like "/help guild" cannot reassemble into a command. A name that
// escapes to nothing becomes fallback (DefaultFallbackSender when empty).
func EscapeSenderName(name, fallback string) string {
	if fallback == "" {
		fallback = DefaultFallbackSender
	}

	if r, size := utf8.DecodeRuneInString(name); size > 0 && strings.ContainsRune(commandSymbols, r) {
		name = name[size:]
	}
	name = strings.Map(func(r rune) rune {
		if isControl(r) || strings.ContainsRune(commandSymbols, r) {
			return -1
		}
		return r
	}, name)
	name = reservedCommandRe.ReplaceAllString(name, "")
	name = strings.TrimSpace(spaceRunRe.ReplaceAllString(name, " "))

	if name == "" {
		return fallback
	}
	return name
}
