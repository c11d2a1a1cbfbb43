// Package resolver rewrites ambiguous questions into self-contained ones
// using a user's entity memory. Resolution is read-only and deterministic:
// the same question against the same memory snapshot always produces the
// same output.
package resolver

import (
	"regexp"
	"strings"

	"github.com/mlodato/sqlsteward/internal/memory"
)

// Substitution records one marker rewritten during resolution.
type Substitution struct {
	Marker      string `json:"marker"`
	Replacement string `json:"replacement"`
	Category    string `json:"category"`
}

// Resolution is the outcome of resolving a raw question.
type Resolution struct {
	Question      string         `json:"question"`
	Substitutions []Substitution `json:"substitutions,omitempty"`
}

// Resolved reports whether any marker was rewritten.
func (r Resolution) Resolved() bool { return len(r.Substitutions) > 0 }

var (
	wordPattern = regexp.MustCompile(`[A-Za-z']+`)

	// "that student", "the same table" and similar bare definite references.
	phrasePattern = regexp.MustCompile(`(?i)\b(?:that|this|the same)\s+(student|person|user|customer|table|one)\b`)

	// Pronoun marker -> entity category it expects. Empty category means any.
	pronounCategory = map[string]string{
		"she":   memory.CategoryPerson,
		"he":    memory.CategoryPerson,
		"her":   memory.CategoryPerson,
		"his":   memory.CategoryPerson,
		"him":   memory.CategoryPerson,
		"they":  memory.CategoryPerson,
		"them":  memory.CategoryPerson,
		"their": memory.CategoryPerson,
		"it":    "",
	}

	// Pronouns that read as possessive when another word follows.
	possessivePronouns = map[string]bool{
		"her":   true,
		"his":   true,
		"their": true,
	}

	phraseCategory = map[string]string{
		"student":  memory.CategoryPerson,
		"person":   memory.CategoryPerson,
		"user":     memory.CategoryPerson,
		"customer": memory.CategoryPerson,
		"table":    memory.CategoryTable,
		"one":      "",
	}
)

// Resolve substitutes anaphoric markers in rawQuestion with the most recently
// seen matching entities from rec. Markers with no matching entity are left
// untouched; Resolve never fails.
func Resolve(rawQuestion string, rec memory.Record) Resolution {
	res := Resolution{Question: rawQuestion}
	if len(rec.Entities) == 0 {
		return res
	}

	res.Question = resolvePhrases(res.Question, rec, &res.Substitutions)
	res.Question = resolvePronouns(res.Question, rec, &res.Substitutions)
	return res
}

func resolvePhrases(question string, rec memory.Record, subs *[]Substitution) string {
	return phrasePattern.ReplaceAllStringFunc(question, func(match string) string {
		fields := strings.Fields(strings.ToLower(match))
		noun := fields[len(fields)-1]
		ref, ok := latestEntity(rec, phraseCategory[noun])
		if !ok {
			return match
		}
		*subs = append(*subs, Substitution{
			Marker:      match,
			Replacement: ref.Canonical,
			Category:    ref.Category,
		})
		return ref.Canonical
	})
}

func resolvePronouns(question string, rec memory.Record, subs *[]Substitution) string {
	matches := wordPattern.FindAllStringIndex(question, -1)
	if len(matches) == 0 {
		return question
	}

	var out strings.Builder
	prev := 0
	for i, span := range matches {
		word := question[span[0]:span[1]]
		lower := strings.ToLower(word)

		category, isMarker := pronounCategory[lower]
		if !isMarker {
			continue
		}
		ref, ok := latestEntity(rec, category)
		if !ok {
			continue
		}

		replacement := ref.Canonical
		if possessivePronouns[lower] && i+1 < len(matches) {
			replacement = ref.Canonical + "'s"
		}

		out.WriteString(question[prev:span[0]])
		out.WriteString(replacement)
		prev = span[1]

		*subs = append(*subs, Substitution{
			Marker:      word,
			Replacement: replacement,
			Category:    ref.Category,
		})
	}
	out.WriteString(question[prev:])
	return out.String()
}

// latestEntity returns the most recently seen entity of the given category
// (any category when empty). Ties on the turn index break lexicographically
// by alias so resolution stays deterministic.
func latestEntity(rec memory.Record, category string) (memory.EntityRef, bool) {
	var (
		best      memory.EntityRef
		bestAlias string
		found     bool
	)
	for alias, ref := range rec.Entities {
		if category != "" && ref.Category != category {
			continue
		}
		if !found ||
			ref.LastSeenTurn > best.LastSeenTurn ||
			(ref.LastSeenTurn == best.LastSeenTurn && alias < bestAlias) {
			best = ref
			bestAlias = alias
			found = true
		}
	}
	return best, found
}
