package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mlodato/sqlsteward/internal/memory"
)

// buildContext renders the conversation digest handed to the generator:
// the two most recent turns plus any windowed turn sharing at least two
// words with the current question, capped at three, followed by the known
// entity list.
func buildContext(rec memory.Record, question string, window int) string {
	turns := rec.RecentTurns(window)
	if len(turns) == 0 {
		return ""
	}

	questionWords := wordSet(question)
	var picked []memory.Turn
	seen := make(map[string]struct{})

	add := func(t memory.Turn) {
		key := t.ID
		if key == "" {
			key = t.RawQuestion + "|" + t.Timestamp.String()
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		picked = append(picked, t)
	}

	start := len(turns) - 2
	if start < 0 {
		start = 0
	}
	for _, t := range turns[start:] {
		add(t)
	}
	for _, t := range turns {
		if overlap(questionWords, wordSet(t.RawQuestion)) >= 2 {
			add(t)
		}
	}
	if len(picked) > 3 {
		picked = picked[len(picked)-3:]
	}

	var b strings.Builder
	for i, t := range picked {
		fmt.Fprintf(&b, "%d. Previous Question: %s\n", i+1, t.RawQuestion)
		if t.GeneratedQuery != "" {
			fmt.Fprintf(&b, "   SQL Query: %s\n", t.GeneratedQuery)
		}
		if t.ResultSummary != "" {
			fmt.Fprintf(&b, "   Result: %s\n", t.ResultSummary)
		}
		if t.Answer != "" {
			fmt.Fprintf(&b, "   Answer Given: %s\n", t.Answer)
		}
	}

	if len(rec.Entities) > 0 {
		aliases := make([]string, 0, len(rec.Entities))
		for alias := range rec.Entities {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)
		fmt.Fprintf(&b, "KNOWN ENTITIES: %s\n", strings.Join(aliases, ", "))
	}

	return strings.TrimRight(b.String(), "\n")
}

func wordSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,?!'\"")
		if w != "" {
			out[w] = struct{}{}
		}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}
