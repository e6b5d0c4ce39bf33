package game

import (
	"strings"
	"sync"
)

// Notice is a server status reply the adapter reacts to.
type Notice int

const (
	NoticeNone Notice = iota
	// NoticeGuildLine is any "Guild > ..." line; it proves membership.
	NoticeGuildLine
	NoticeNotInGuild
	NoticeGuildChannel
	NoticeKicked
	NoticeBanned
)

const (
	guildProbeCommand  = "/g"
	guildSwitchCommand = "/chat g"
)

// ClassifyLine maps a console line (formatting codes already stripped) to
// a status notice. Player and guild chat are never read as kicks or bans,
// whatever their text says.
func ClassifyLine(line string) Notice {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return NoticeNone
	case strings.HasPrefix(line, "Guild > "):
		return NoticeGuildLine
	case vanillaChatRe.MatchString(line):
		return NoticeNone
	}

	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "you are not in a guild"):
		return NoticeNotInGuild
	case strings.Contains(lower, "you are now talking in guild chat"),
		strings.Contains(lower, "you are now in the guild channel"):
		return NoticeGuildChannel
	case strings.Contains(lower, "banned"):
		return NoticeBanned
	case strings.Contains(lower, "kicked"), strings.Contains(lower, "disconnected by server"):
		return NoticeKicked
	}
	return NoticeNone
}

// GuildStatus is what the current session knows about the bot's guild.
type GuildStatus struct {
	InGuild     bool
	InGuildChat bool
	// NotInGuild is set once the server said the bot has no guild.
	NotInGuild bool
}

// guildTracker folds notices of one session into a GuildStatus.
type guildTracker struct {
	mu       sync.Mutex
	st       GuildStatus
	switched bool
}

// observe records n and reports whether the bot should now switch its
// chat channel to guild chat. It asks at most once per session.
func (g *guildTracker) observe(n Notice) (switchChannel bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch n {
	case NoticeGuildLine:
		g.st.InGuild = true
		g.st.NotInGuild = false
		if !g.st.InGuildChat && !g.switched {
			g.switched = true
			return true
		}
	case NoticeNotInGuild:
		g.st.InGuild = false
		g.st.NotInGuild = true
	case NoticeGuildChannel:
		g.st.InGuild = true
		g.st.InGuildChat = true
	}
	return false
}

func (g *guildTracker) status() GuildStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.st
}
