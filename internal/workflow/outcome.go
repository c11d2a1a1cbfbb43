package workflow

import "github.com/mlodato/sqlsteward/internal/executor"

// Kind discriminates the outcome variants of submit-question and
// submit-decision. Callers branch on it, never on field presence.
type Kind string

const (
	// KindAnswer is a terminal answer: either a conversational reply or the
	// result of an approved, executed query.
	KindAnswer Kind = "answer"
	// KindPending carries a decision token awaiting approve/regenerate/cancel.
	KindPending Kind = "pending_approval"
	// KindCancelled acknowledges an advisory cancel.
	KindCancelled Kind = "cancelled"
	// KindFailed is a terminal failure (generation or execution).
	KindFailed Kind = "failed"
)

// Answer is the payload of a KindAnswer outcome.
type Answer struct {
	Username         string            `json:"username"`
	RawQuestion      string            `json:"question"`
	ResolvedQuestion string            `json:"resolved_question"`
	Query            string            `json:"query,omitempty"`
	ResultSummary    string            `json:"result_summary,omitempty"`
	Text             string            `json:"answer"`
	Execution        *executor.Outcome `json:"execution,omitempty"`
}

// PendingReview is the payload of a KindPending outcome.
type PendingReview struct {
	Token            string `json:"token"`
	RawQuestion      string `json:"question"`
	ResolvedQuestion string `json:"resolved_question"`
	Query            string `json:"query"`
	Attempt          int    `json:"attempt"`
	Message          string `json:"message"`
}

// Failure is the payload of a KindFailed outcome. Retryable marks transient
// backend trouble where resubmitting the same question may succeed.
type Failure struct {
	Stage         string `json:"stage"`
	Message       string `json:"message"`
	Query         string `json:"query,omitempty"`
	ResultSummary string `json:"result_summary,omitempty"`
	Retryable     bool   `json:"retryable,omitempty"`
}

// Outcome is the tagged result of a workflow operation. Exactly one payload
// matching Kind is set.
type Outcome struct {
	Kind    Kind           `json:"kind"`
	Answer  *Answer        `json:"answer,omitempty"`
	Pending *PendingReview `json:"pending,omitempty"`
	Failure *Failure       `json:"failure,omitempty"`
}
