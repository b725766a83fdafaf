package irc

import (
	"regexp"
	"strings"
)

// announceLinePattern matches a common tracker announce bot grammar:
// "New Torrent Announcement: <name> :: Download: <url>". Trackers differ
// enough in practice that a daemon deployment typically supplies its own
// Parser; this is a reasonable default for testing and for simple trackers.
var announceLinePattern = regexp.MustCompile(`(?i)New Torrent Announcement:\s*<([^>]+)>\s*::.*?Download:\s*(\S+)`)

// DefaultParser implements Parser for the common "<name> :: ... Download:
// <url>" announce grammar.
func DefaultParser(line string) (AnnounceResult, bool) {
	m := announceLinePattern.FindStringSubmatch(line)
	if m == nil {
		return AnnounceResult{}, false
	}
	return AnnounceResult{Title: strings.TrimSpace(m[1]), DownloadURL: m[2]}, true
}
