package thread

import (
	"regexp"
	"strings"
)

var (
	topicPattern     = regexp.MustCompile(`(?s)^(?:Title: (.*)\n)?User ID: (\d{17,21})$`)
	topicUserPattern = regexp.MustCompile(`\bUser ID:\s*(\d{17,21})\b`)
	snowflakePattern = regexp.MustCompile(`^\d{17,21}$`)
)

// FormatTopic encodes the binding metadata stored on a thread channel.
// An empty title omits the title line.
func FormatTopic(title, userID string) string {
	if title == "" {
		return "User ID: " + userID
	}
	return "Title: " + title + "\nUser ID: " + userID
}

// ParseTopic extracts the title and recipient id from channel metadata.
// Topics edited by hand are accepted as long as a User ID line remains.
func ParseTopic(topic string) (title, userID string, ok bool) {
	if m := topicPattern.FindStringSubmatch(topic); m != nil {
		return m[1], m[2], true
	}
	m := topicUserPattern.FindStringSubmatch(topic)
	if m == nil {
		return "", "", false
	}
	if idx := strings.Index(topic, "Title: "); idx >= 0 {
		rest := topic[idx+len("Title: "):]
		if end := strings.IndexByte(rest, '\n'); end >= 0 {
			title = rest[:end]
		}
	}
	return title, m[1], true
}

// ValidID reports whether id looks like a platform snowflake.
func ValidID(id string) bool {
	return snowflakePattern.MatchString(id)
}
