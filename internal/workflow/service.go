// Package workflow implements the approval state machine: a submitted
// question is drafted into a candidate query, suspended into a portable
// decision token, and resumed later by an approve, regenerate, or cancel
// action. The memory store is mutated only when a turn actually completes.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mlodato/sqlsteward/internal/executor"
	"github.com/mlodato/sqlsteward/internal/generator"
	"github.com/mlodato/sqlsteward/internal/memory"
	"github.com/mlodato/sqlsteward/internal/observability"
	"github.com/mlodato/sqlsteward/internal/resolver"
	"github.com/mlodato/sqlsteward/internal/token"
)

// Action is a caller's verdict on a pending decision.
type Action string

const (
	ActionApprove    Action = "approve"
	ActionRegenerate Action = "regenerate"
	ActionCancel     Action = "cancel"
)

var (
	ErrFeedbackRequired  = errors.New("regenerate requires feedback")
	ErrAttemptsExhausted = errors.New("regenerate attempt limit reached")
	ErrUnknownAction     = errors.New("unknown decision action")
)

// Config bounds the workflow's external calls and review cycles.
type Config struct {
	HistoryWindow     int
	MaxAttempts       int
	GenerationTimeout time.Duration
	ExecutionTimeout  time.Duration
	TokenTTL          time.Duration
}

func (c *Config) applyDefaults() {
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 10
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = 60 * time.Second
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = 30 * time.Second
	}
}

// Service drives question submission and decision resumption. It holds no
// per-decision state: everything a resumption needs travels in the token.
type Service struct {
	store   memory.Store
	gen     generator.Generator
	exec    executor.Executor
	schema  executor.SchemaProvider
	codec   *token.Codec
	metrics *observability.Metrics
	cfg     Config
	replays *replayGuard
}

func NewService(
	store memory.Store,
	gen generator.Generator,
	exec executor.Executor,
	schema executor.SchemaProvider,
	codec *token.Codec,
	metrics *observability.Metrics,
	cfg Config,
) *Service {
	cfg.applyDefaults()
	return &Service{
		store:   store,
		gen:     gen,
		exec:    exec,
		schema:  schema,
		codec:   codec,
		metrics: metrics,
		cfg:     cfg,
		replays: newReplayGuard(cfg.TokenTTL),
	}
}

// SubmitQuestion resolves the raw question against the user's memory and
// drafts a candidate query. Conversational questions complete immediately;
// query questions return a pending decision token. Generation failure is a
// terminal outcome: no token, no memory mutation.
func (s *Service) SubmitQuestion(ctx context.Context, username, rawQuestion string) (Outcome, error) {
	rec, err := s.store.Get(ctx, username)
	if err != nil {
		// Degrade to empty memory rather than failing the whole request.
		s.metrics.StoreErrors.Inc()
		rec = memory.Record{Username: username}
	}

	resolution := resolver.Resolve(rawQuestion, rec)

	result, err := s.generate(ctx, generator.Request{
		Question: resolution.Question,
		Schema:   s.renderSchema(ctx),
		Context:  buildContext(rec, rawQuestion, s.cfg.HistoryWindow),
	})
	if err != nil {
		s.metrics.QuestionsTotal.WithLabelValues(string(KindFailed)).Inc()
		return failure("generation", err), nil
	}

	if result.Conversational() {
		turn := memory.Turn{
			RawQuestion:      rawQuestion,
			ResolvedQuestion: resolution.Question,
			Answer:           result.Answer,
		}
		if err := s.store.AppendTurn(ctx, username, turn); err != nil {
			s.metrics.StoreErrors.Inc()
			return Outcome{}, fmt.Errorf("record conversational turn: %w", err)
		}
		s.metrics.QuestionsTotal.WithLabelValues(string(KindAnswer)).Inc()
		return Outcome{Kind: KindAnswer, Answer: &Answer{
			Username:         username,
			RawQuestion:      rawQuestion,
			ResolvedQuestion: resolution.Question,
			Text:             result.Answer,
		}}, nil
	}

	tok, err := s.codec.Encode(token.PendingDecision{
		Username:         username,
		RawQuestion:      rawQuestion,
		ResolvedQuestion: resolution.Question,
		CandidateQuery:   result.Query,
		Attempt:          0,
		IssuedAt:         time.Now().UTC(),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("issue decision token: %w", err)
	}

	s.metrics.QuestionsTotal.WithLabelValues(string(KindPending)).Inc()
	s.metrics.TokensIssued.Inc()
	return Outcome{Kind: KindPending, Pending: &PendingReview{
		Token:            tok,
		RawQuestion:      rawQuestion,
		ResolvedQuestion: resolution.Question,
		Query:            result.Query,
		Attempt:          0,
		Message:          "Query generated and pending human approval.",
	}}, nil
}

// Decide resumes a pending decision carried by tokenStr.
func (s *Service) Decide(ctx context.Context, tokenStr string, action Action, feedback string) (Outcome, error) {
	d, err := s.codec.Decode(tokenStr)
	if err != nil {
		s.metrics.DecisionsTotal.WithLabelValues(string(action), "token_rejected").Inc()
		return Outcome{}, err
	}

	switch action {
	case ActionApprove:
		return s.approve(ctx, tokenStr, d, feedback)
	case ActionRegenerate:
		return s.regenerate(ctx, d, feedback)
	case ActionCancel:
		// Advisory: the caller discards the token; nothing to release here.
		s.metrics.DecisionsTotal.WithLabelValues(string(action), "ok").Inc()
		return Outcome{Kind: KindCancelled}, nil
	default:
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

func (s *Service) approve(ctx context.Context, tokenStr string, d token.PendingDecision, feedback string) (Outcome, error) {
	if !s.replays.markUsed(s.codec.Fingerprint(tokenStr)) {
		s.metrics.DecisionsTotal.WithLabelValues(string(ActionApprove), "token_rejected").Inc()
		return Outcome{}, token.ErrReplayed
	}

	execCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecutionTimeout)
	defer cancel()

	started := time.Now()
	result, execErr := s.exec.Execute(execCtx, d.CandidateQuery)
	s.metrics.ObserveExecution(time.Since(started))

	summary := result.Summary
	if execErr != nil {
		summary = "execution failed: " + execErr.Error()
	}

	turn := memory.Turn{
		RawQuestion:      d.RawQuestion,
		ResolvedQuestion: d.ResolvedQuestion,
		GeneratedQuery:   d.CandidateQuery,
		ResultSummary:    summary,
		Answer:           composeAnswer(summary, feedback),
	}
	if err := s.store.AppendTurn(ctx, d.Username, turn); err != nil {
		// The query already ran; losing the outcome to a store hiccup would
		// be worse than a history gap, so surface the result regardless.
		s.metrics.StoreErrors.Inc()
	}

	if execErr != nil {
		s.metrics.DecisionsTotal.WithLabelValues(string(ActionApprove), "execution_failed").Inc()
		return Outcome{Kind: KindFailed, Failure: &Failure{
			Stage:         "execution",
			Message:       execErr.Error(),
			Query:         d.CandidateQuery,
			ResultSummary: summary,
		}}, nil
	}

	s.metrics.DecisionsTotal.WithLabelValues(string(ActionApprove), "ok").Inc()
	return Outcome{Kind: KindAnswer, Answer: &Answer{
		Username:         d.Username,
		RawQuestion:      d.RawQuestion,
		ResolvedQuestion: d.ResolvedQuestion,
		Query:            d.CandidateQuery,
		ResultSummary:    summary,
		Text:             turn.Answer,
		Execution:        &result,
	}}, nil
}

func (s *Service) regenerate(ctx context.Context, d token.PendingDecision, feedback string) (Outcome, error) {
	if strings.TrimSpace(feedback) == "" {
		return Outcome{}, ErrFeedbackRequired
	}
	if s.cfg.MaxAttempts > 0 && d.Attempt+1 > s.cfg.MaxAttempts {
		s.metrics.DecisionsTotal.WithLabelValues(string(ActionRegenerate), "exhausted").Inc()
		return Outcome{}, ErrAttemptsExhausted
	}

	rec, err := s.store.Get(ctx, d.Username)
	if err != nil {
		s.metrics.StoreErrors.Inc()
		rec = memory.Record{Username: d.Username}
	}

	result, err := s.generate(ctx, generator.Request{
		Question: d.ResolvedQuestion,
		Feedback: feedback,
		Schema:   s.renderSchema(ctx),
		Context:  buildContext(rec, d.RawQuestion, s.cfg.HistoryWindow),
	})
	if err == nil && result.Conversational() {
		err = fmt.Errorf("%w: generator returned no query", generator.ErrGeneration)
	}
	if err != nil {
		s.metrics.DecisionsTotal.WithLabelValues(string(ActionRegenerate), "generation_failed").Inc()
		return failure("generation", err), nil
	}

	next := token.PendingDecision{
		Username:         d.Username,
		RawQuestion:      d.RawQuestion,
		ResolvedQuestion: d.ResolvedQuestion,
		CandidateQuery:   result.Query,
		Attempt:          d.Attempt + 1,
		IssuedAt:         time.Now().UTC(),
	}
	tok, err := s.codec.Encode(next)
	if err != nil {
		return Outcome{}, fmt.Errorf("issue decision token: %w", err)
	}

	s.metrics.DecisionsTotal.WithLabelValues(string(ActionRegenerate), "ok").Inc()
	s.metrics.TokensIssued.Inc()
	return Outcome{Kind: KindPending, Pending: &PendingReview{
		Token:            tok,
		RawQuestion:      next.RawQuestion,
		ResolvedQuestion: next.ResolvedQuestion,
		Query:            next.CandidateQuery,
		Attempt:          next.Attempt,
		Message:          "Query regenerated. You can approve or provide more feedback.",
	}}, nil
}

func (s *Service) generate(ctx context.Context, req generator.Request) (generator.Result, error) {
	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	started := time.Now()
	result, err := s.gen.Generate(genCtx, req)
	s.metrics.ObserveGeneration(time.Since(started))
	return result, err
}

func (s *Service) renderSchema(ctx context.Context) string {
	if s.schema == nil {
		return ""
	}
	tables, err := s.schema.Schema(ctx)
	if err != nil {
		return ""
	}
	return executor.RenderSchema(tables)
}

func failure(stage string, err error) Outcome {
	return Outcome{Kind: KindFailed, Failure: &Failure{
		Stage:     stage,
		Message:   err.Error(),
		Retryable: errors.Is(err, generator.ErrBackendUnavailable),
	}}
}

func composeAnswer(summary, feedback string) string {
	text := "Executed the approved query. " + summary
	if strings.TrimSpace(feedback) != "" {
		text += " Reviewer note: " + strings.TrimSpace(feedback)
	}
	return text
}
