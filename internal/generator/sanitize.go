package generator

import (
	"regexp"
	"strings"
)

const chatIntentPrefix = "INTENT:CHAT"

var (
	sqlFencePattern   = regexp.MustCompile("(?s)```sql\\s+(.*?)```")
	anyFencePattern   = regexp.MustCompile("(?s)```\\s*(.*?)```")
	trailingLimit     = regexp.MustCompile(`(?i)\s+LIMIT\s+\d+\s*$`)
	mutatingStatement = regexp.MustCompile(`(?i)^\s*(UPDATE|INSERT|DELETE)\b`)
)

// ExtractSQL pulls the query out of a model reply that may wrap it in a
// markdown fence. A bare reply is returned as-is.
func ExtractSQL(reply string) string {
	if m := sqlFencePattern.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := anyFencePattern.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(reply)
}

// Sanitize fixes the query shapes models commonly get wrong: embedded
// newlines and a LIMIT clause tacked onto a mutating statement.
func Sanitize(query string) string {
	query = strings.TrimSpace(query)
	if mutatingStatement.MatchString(query) {
		query = trailingLimit.ReplaceAllString(query, "")
	}
	query = strings.Join(strings.Fields(query), " ")
	return query
}

// chatReply splits an INTENT:CHAT-prefixed reply into its answer text.
func chatReply(reply string) (string, bool) {
	trimmed := strings.TrimSpace(reply)
	if !strings.HasPrefix(trimmed, chatIntentPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, chatIntentPrefix)), true
}
