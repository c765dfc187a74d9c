package dfstate

import (
	"regexp"
	"strings"
)

// Chat markers used by the server.
const (
	MainArrow    = "»"
	SupportArrow = "»"

	usernamePattern = `\w{3,16}`
	plotNamePattern = `.+`
)

var (
	ipRegex       = regexp.MustCompile(`^(?:\w+\.)?mcdiamondfire\.com(?::\d+)?$`)
	playModeRegex = regexp.MustCompile(`^` + regexp.QuoteMeta(MainArrow) + ` Joined game: ` + plotNamePattern + ` by ` + usernamePattern + `\.$`)
	styleCodes    = regexp.MustCompile(`§[0-9a-fk-or]`)
)

const (
	buildModeMessage   = MainArrow + " You are now in build mode."
	devModeMessage     = MainArrow + " You are now in dev mode."
	supportRequestText = "You have requested code support.\nIf you wish to leave the queue, use /support cancel."
)

// IPMatchesServer reports whether addr points at the server network.
func IPMatchesServer(addr string) bool {
	return ipRegex.MatchString(addr)
}

// Unstyled strips legacy formatting codes from a chat message.
func Unstyled(msg string) string {
	return styleCodes.ReplaceAllString(msg, "")
}

// Match reports whether msg is the chat message announcing mode m.
func (m ModeID) Match(msg string) bool {
	msg = Unstyled(msg)
	switch m {
	case ModePlay:
		return playModeRegex.MatchString(msg)
	case ModeBuild:
		return msg == buildModeMessage
	case ModeDev:
		return msg == devModeMessage
	default:
		return false
	}
}

// MatchMode returns the first mode whose announcement matches msg.
func MatchMode(msg string) (ModeID, bool) {
	for _, m := range ModeIDs {
		if m.Match(msg) {
			return m, true
		}
	}
	return 0, false
}

// MatchSession returns the support session announced by msg. username is
// the local player's name, which appears in the helping announcement.
func MatchSession(msg, username string) (SupportSession, bool) {
	msg = Unstyled(msg)
	if msg == supportRequestText {
		return SessionRequested, true
	}

	helping := `^\[SUPPORT\] ` + regexp.QuoteMeta(username) + ` entered a session with ` +
		usernamePattern + `\. ` + regexp.QuoteMeta(SupportArrow) + ` Queue cleared!$`
	if ok, _ := regexp.MatchString(helping, msg); ok {
		return SessionHelping, true
	}
	return SessionNone, false
}

// trimMessage normalizes surrounding whitespace in a chat message.
func trimMessage(msg string) string {
	return strings.TrimSpace(msg)
}
