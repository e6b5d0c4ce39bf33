package game

import (
	"regexp"
	"strings"
	"time"

	kit "guildrelay/internal/transport"
)

var (
	// formatCodeRe matches legacy formatting codes (§a, §l, ...).
	formatCodeRe = regexp.MustCompile(`§[0-9a-fk-orA-FK-OR]`)
	// vanillaChatRe matches "<name> text" player chat. The optional
	// bracketed prefix is the timestamp some console clients print.
	vanillaChatRe = regexp.MustCompile(`^(?:\[\d{1,2}:\d{2}(?::\d{2})?\] )?<([A-Za-z0-9_]{1,16})> (.*)$`)
	// clientNoticeRe matches console client status lines such as "[MCC] ...".
	clientNoticeRe = regexp.MustCompile(`^\[(?:MCC|Console|INFO|WARN|ERROR)\]`)
)

// ParseLine turns one console line into a chat event. ok is false for
// blank lines and client status output.
func ParseLine(raw string, at time.Time) (kit.GameChat, bool) {
	line := strings.TrimRight(raw, "\r\n")
	line = formatCodeRe.ReplaceAllString(line, "")
	if strings.TrimSpace(line) == "" || clientNoticeRe.MatchString(line) {
		return kit.GameChat{}, false
	}
	if m := vanillaChatRe.FindStringSubmatch(line); m != nil {
		return kit.GameChat{Username: m[1], Message: m[2], ReceivedAt: at}, true
	}
	return kit.GameChat{Message: line, ReceivedAt: at}, true
}

// commandLine flattens text to a single line so one SendChat is always
// exactly one chat command.
func commandLine(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, text)
}
