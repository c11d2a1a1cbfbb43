package memory

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
)

var (
	tableRefPattern = regexp.MustCompile(`(?i)\b(?:from|join)\s+([A-Za-z_][A-Za-z0-9_]*)`)
	sqlLiteralPattern = regexp.MustCompile(`'([^']*)'`)

	// Words that are capitalized for grammatical reasons, not because they
	// name an entity.
	questionStopwords = map[string]struct{}{
		"what": {}, "who": {}, "where": {}, "when": {}, "why": {}, "how": {},
		"which": {}, "whose": {}, "show": {}, "list": {}, "find": {}, "give": {},
		"tell": {}, "count": {}, "get": {}, "display": {},
		"the": {}, "a": {}, "an": {}, "of": {}, "in": {}, "on": {}, "for": {},
		"and": {}, "or": {}, "to": {}, "me": {}, "all": {}, "is": {}, "are": {},
		"was": {}, "were": {}, "does": {}, "did": {}, "do": {}, "can": {},
		"please": {}, "about": {}, "with": {}, "by": {}, "from": {},
	}

	// Column vocabulary tracked for question-pattern statistics.
	patternColumns = []string{"name", "marks", "class", "section", "grade", "email", "id", "student"}
)

// applyTurn appends a turn to a record, refreshes entity memory from the
// resolved question and generated query, and bumps the pattern counters.
// Shared by every store implementation so the merge semantics stay identical.
func applyTurn(rec *Record, turn Turn, now time.Time) {
	rec.History = append(rec.History, turn)
	idx := len(rec.History) - 1

	if rec.Entities == nil {
		rec.Entities = make(map[string]EntityRef)
	}
	if rec.QuestionPatterns == nil {
		rec.QuestionPatterns = make(map[string]int)
	}

	for _, ent := range extractEntities(turn.ResolvedQuestion, turn.GeneratedQuery) {
		alias := strings.ToLower(ent.Canonical)
		rec.Entities[alias] = EntityRef{
			Canonical:    ent.Canonical,
			Category:     ent.Category,
			LastSeenTurn: idx,
			LastSeenAt:   now,
		}
	}

	if key := patternKey(turn.RawQuestion); key != "" {
		rec.QuestionPatterns[key]++
	}

	rec.UpdatedAt = now
}

type extracted struct {
	Canonical string
	Category  string
}

// extractEntities pulls named values out of a resolved question and the SQL
// generated for it: capitalized words become person entities, table names
// after FROM/JOIN become table entities, quoted literals become person or
// value entities depending on shape.
func extractEntities(resolvedQuestion, query string) []extracted {
	var out []extracted

	for _, tok := range strings.Fields(resolvedQuestion) {
		word := strings.TrimFunc(tok, func(r rune) bool {
			return !unicode.IsLetter(r)
		})
		// Drop a possessive suffix so "Alice's" indexes as "Alice".
		word = strings.TrimSuffix(word, "'s")
		if len(word) < 2 || !startsUpper(word) {
			continue
		}
		if _, stop := questionStopwords[strings.ToLower(word)]; stop {
			continue
		}
		out = append(out, extracted{Canonical: word, Category: CategoryPerson})
	}

	for _, m := range tableRefPattern.FindAllStringSubmatch(query, -1) {
		out = append(out, extracted{Canonical: m[1], Category: CategoryTable})
	}

	for _, m := range sqlLiteralPattern.FindAllStringSubmatch(query, -1) {
		lit := strings.Trim(m[1], "%")
		if lit == "" {
			continue
		}
		cat := CategoryValue
		if alphabetic(lit) {
			cat = CategoryPerson
		}
		out = append(out, extracted{Canonical: lit, Category: cat})
	}

	return out
}

// patternKey reduces a question to an observational shape key: the leading
// word plus the sorted set of recognized column words it mentions.
func patternKey(question string) string {
	fields := strings.Fields(strings.ToLower(question))
	if len(fields) == 0 {
		return ""
	}
	lead := strings.TrimFunc(fields[0], func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if lead == "" {
		return ""
	}

	seen := make(map[string]struct{})
	lower := strings.ToLower(question)
	for _, col := range patternColumns {
		if containsWord(lower, col) {
			seen[col] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return lead
	}

	cols := make([]string, 0, len(seen))
	for col := range seen {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return lead + ":" + strings.Join(cols, ",")
}

func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isWordRune(rune(s[i-1]))
		afterIdx := i + len(word)
		after := afterIdx >= len(s) || !isWordRune(rune(s[afterIdx]))
		if before && after {
			return true
		}
		idx = i + len(word)
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

func alphabetic(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && r != ' ' {
			return false
		}
	}
	return true
}
