package memory

import (
	"context"
	"testing"
	"time"
)

func TestGetUnknownUserReturnsEmptyRecord(t *testing.T) {
	s := NewInMemoryStore()
	rec, err := s.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Username != "nobody" {
		t.Fatalf("Username = %q, want %q", rec.Username, "nobody")
	}
	if len(rec.History) != 0 || len(rec.Entities) != 0 || len(rec.QuestionPatterns) != 0 {
		t.Fatalf("fresh record not empty: %+v", rec)
	}
}

func TestAppendTurnExtractsEntitiesAndPatterns(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	err := s.AppendTurn(ctx, "u1", Turn{
		RawQuestion:      "What are the marks of Alice?",
		ResolvedQuestion: "What are the marks of Alice?",
		GeneratedQuery:   "SELECT marks FROM students WHERE name LIKE '%alice%'",
		ResultSummary:    "1 row(s) returned: (Alice, 91)",
	})
	if err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	rec, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(rec.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(rec.History))
	}
	if rec.History[0].ID == "" {
		t.Fatalf("turn was stored without an ID")
	}
	if rec.History[0].Timestamp.IsZero() {
		t.Fatalf("turn was stored without a timestamp")
	}

	alice, ok := rec.Entities["alice"]
	if !ok {
		t.Fatalf("entity %q missing, got %v", "alice", rec.Entities)
	}
	if alice.Category != CategoryPerson {
		t.Fatalf("alice category = %q, want %q", alice.Category, CategoryPerson)
	}
	if alice.LastSeenTurn != 0 {
		t.Fatalf("alice LastSeenTurn = %d, want 0", alice.LastSeenTurn)
	}

	students, ok := rec.Entities["students"]
	if !ok {
		t.Fatalf("entity %q missing, got %v", "students", rec.Entities)
	}
	if students.Category != CategoryTable {
		t.Fatalf("students category = %q, want %q", students.Category, CategoryTable)
	}

	if got := rec.QuestionPatterns["what:marks"]; got != 1 {
		t.Fatalf("pattern count = %d, want 1; patterns: %v", got, rec.QuestionPatterns)
	}
}

func TestAppendTurnRefreshesEntityRecency(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	turns := []Turn{
		{RawQuestion: "Who is Alice?", ResolvedQuestion: "Who is Alice?", GeneratedQuery: "SELECT * FROM students WHERE name = 'Alice'"},
		{RawQuestion: "Who is Bob?", ResolvedQuestion: "Who is Bob?", GeneratedQuery: "SELECT * FROM students WHERE name = 'Bob'"},
		{RawQuestion: "What about Alice again?", ResolvedQuestion: "What about Alice again?", GeneratedQuery: "SELECT * FROM students WHERE name = 'Alice'"},
	}
	for _, turn := range turns {
		if err := s.AppendTurn(ctx, "u1", turn); err != nil {
			t.Fatalf("AppendTurn failed: %v", err)
		}
	}

	rec, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got := rec.Entities["alice"].LastSeenTurn; got != 2 {
		t.Fatalf("alice LastSeenTurn = %d, want 2", got)
	}
	if got := rec.Entities["bob"].LastSeenTurn; got != 1 {
		t.Fatalf("bob LastSeenTurn = %d, want 1", got)
	}
}

func TestClearPreservesRecordIdentity(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.AppendTurn(ctx, "u1", Turn{RawQuestion: "hi", ResolvedQuestion: "hi"}); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}
	before, _ := s.Get(ctx, "u1")

	if err := s.Clear(ctx, "u1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	after, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(after.History) != 0 || len(after.Entities) != 0 || len(after.QuestionPatterns) != 0 {
		t.Fatalf("record not cleared: %+v", after)
	}
	if !after.CreatedAt.Equal(before.CreatedAt) {
		t.Fatalf("Clear changed CreatedAt: %v -> %v", before.CreatedAt, after.CreatedAt)
	}

	// Clearing a user that was never seen is a no-op.
	if err := s.Clear(ctx, "ghost"); err != nil {
		t.Fatalf("Clear of unknown user failed: %v", err)
	}
	users, _ := s.ListUsers(ctx)
	if len(users) != 1 {
		t.Fatalf("users = %v, want only u1", users)
	}
}

func TestListUsersSorted(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	for _, u := range []string{"carol", "alice", "bob"} {
		if err := s.AppendTurn(ctx, u, Turn{RawQuestion: "hi", ResolvedQuestion: "hi"}); err != nil {
			t.Fatalf("AppendTurn failed: %v", err)
		}
	}
	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	want := []string{"alice", "bob", "carol"}
	if len(users) != len(want) {
		t.Fatalf("users = %v, want %v", users, want)
	}
	for i := range want {
		if users[i] != want[i] {
			t.Fatalf("users = %v, want %v", users, want)
		}
	}
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	if err := s.AppendTurn(ctx, "u1", Turn{RawQuestion: "Who is Alice?", ResolvedQuestion: "Who is Alice?"}); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	rec, _ := s.Get(ctx, "u1")
	rec.History[0].RawQuestion = "mutated"
	rec.Entities["alice"] = EntityRef{Canonical: "Mallory"}

	fresh, _ := s.Get(ctx, "u1")
	if fresh.History[0].RawQuestion != "Who is Alice?" {
		t.Fatalf("store state leaked through returned record")
	}
	if fresh.Entities["alice"].Canonical != "Alice" {
		t.Fatalf("entity map leaked through returned record")
	}
}

func TestRecentTurnsWindow(t *testing.T) {
	rec := Record{}
	for i := 0; i < 5; i++ {
		rec.History = append(rec.History, Turn{ID: string(rune('a' + i))})
	}

	got := rec.RecentTurns(2)
	if len(got) != 2 {
		t.Fatalf("RecentTurns(2) length = %d, want 2", len(got))
	}
	if got[0].ID != "d" || got[1].ID != "e" {
		t.Fatalf("RecentTurns(2) = %v, want final two turns", got)
	}

	if got := rec.RecentTurns(10); len(got) != 5 {
		t.Fatalf("RecentTurns(10) length = %d, want 5", len(got))
	}
	if got := rec.RecentTurns(0); len(got) != 0 {
		t.Fatalf("RecentTurns(0) length = %d, want 0", len(got))
	}
}

func TestPatternKeyShapes(t *testing.T) {
	cases := []struct {
		question string
		want     string
	}{
		{"What are the marks of Alice?", "what:marks"},
		{"Show name and class of every student", "show:class,name,student"},
		{"hello there", "hello"},
		{"", ""},
		{"??", ""},
	}
	for _, tc := range cases {
		if got := patternKey(tc.question); got != tc.want {
			t.Fatalf("patternKey(%q) = %q, want %q", tc.question, got, tc.want)
		}
	}
}

func TestExtractEntitiesFromLiterals(t *testing.T) {
	got := extractEntities("", "SELECT * FROM students WHERE name LIKE '%alice%' AND grade = '10B'")

	byName := make(map[string]string)
	for _, e := range got {
		byName[e.Canonical] = e.Category
	}
	if byName["alice"] != CategoryPerson {
		t.Fatalf("alice category = %q, want %q", byName["alice"], CategoryPerson)
	}
	if byName["10B"] != CategoryValue {
		t.Fatalf("10B category = %q, want %q", byName["10B"], CategoryValue)
	}
	if byName["students"] != CategoryTable {
		t.Fatalf("students category = %q, want %q", byName["students"], CategoryTable)
	}
}

func TestExtractEntitiesSkipsStopwordsAndPossessives(t *testing.T) {
	got := extractEntities("Show Alice's marks", "")
	if len(got) != 1 {
		t.Fatalf("entities = %v, want only Alice", got)
	}
	if got[0].Canonical != "Alice" {
		t.Fatalf("canonical = %q, want %q (possessive trimmed)", got[0].Canonical, "Alice")
	}
}

func TestApplyTurnSetsUpdatedAt(t *testing.T) {
	rec := emptyRecord("u1", time.Unix(0, 0).UTC())
	now := time.Now().UTC()
	applyTurn(&rec, Turn{RawQuestion: "hi", ResolvedQuestion: "hi"}, now)
	if !rec.UpdatedAt.Equal(now) {
		t.Fatalf("UpdatedAt = %v, want %v", rec.UpdatedAt, now)
	}
}
