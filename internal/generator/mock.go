package generator

import (
	"context"
	"fmt"
	"strings"
)

// Mock produces deterministic local results when no generator backend is
// configured. Useful for development and tests; never for real schemas.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

var chatOpenerWords = map[string]bool{
	"hello": true, "hi": true, "hey": true, "thanks": true, "help": true,
}

var chatOpenerPhrases = []string{"thank you", "what can you"}

// isChatOpener matches on the trimmed first word so a bare "hi" counts, while
// "hire date of Alice" does not.
func isChatOpener(question string) bool {
	first := question
	if i := strings.IndexByte(question, ' '); i >= 0 {
		first = question[:i]
	}
	if chatOpenerWords[strings.Trim(first, ".,!?")] {
		return true
	}
	for _, phrase := range chatOpenerPhrases {
		if strings.HasPrefix(question, phrase) {
			return true
		}
	}
	return false
}

func (m *Mock) Generate(ctx context.Context, req Request) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: %s", ErrGeneration, ctx.Err())
	default:
	}

	question := strings.ToLower(strings.TrimSpace(req.Question))
	if question == "" {
		return Result{}, fmt.Errorf("%w: empty question", ErrGeneration)
	}

	if isChatOpener(question) {
		return Result{Answer: "I can answer questions about the data and draft SQL queries for your approval."}, nil
	}

	query := "SELECT name, marks FROM students LIMIT 10"
	if subject := lastQuotedOrCapitalized(req.Question); subject != "" {
		query = fmt.Sprintf("SELECT name, marks FROM students WHERE name LIKE '%%%s%%' LIMIT 10", strings.ToLower(subject))
	}
	if strings.TrimSpace(req.Feedback) != "" {
		// Feedback visibly alters the candidate so regenerate cycles are
		// observable in dev without a real model.
		query = fmt.Sprintf("%s -- feedback: %s", query, strings.TrimSpace(req.Feedback))
	}
	return Result{Query: Sanitize(query)}, nil
}

func lastQuotedOrCapitalized(question string) string {
	var subject string
	for _, tok := range strings.Fields(question) {
		word := strings.Trim(tok, ".,?!'\"")
		if len(word) < 2 {
			continue
		}
		if word[0] >= 'A' && word[0] <= 'Z' {
			switch strings.ToLower(word) {
			case "what", "who", "where", "when", "how", "which", "show", "list", "find", "the":
				continue
			}
			subject = word
		}
	}
	return subject
}
