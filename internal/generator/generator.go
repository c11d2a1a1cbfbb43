// Package generator maps a resolved natural-language question to a candidate
// SQL query through an external text-to-text service. The workflow never
// executes what comes back here without human approval.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrGeneration marks any failure of the external generator, including
// timeouts. The workflow surfaces it as a failed answer with no token issued.
var ErrGeneration = errors.New("query generation failed")

// ErrBackendUnavailable narrows ErrGeneration to transient backend trouble
// (rate limiting, 5xx): the same request may succeed if simply retried.
var ErrBackendUnavailable = errors.New("generation backend unavailable")

// Request carries everything the generator may use to produce a query.
type Request struct {
	Question string
	Feedback string
	Schema   string
	Context  string
}

// Result is the generator's output. An empty Query with a non-empty Answer is
// a conversational reply that needs no approval.
type Result struct {
	Query  string
	Answer string
}

// Conversational reports whether the result carries no query to approve.
func (r Result) Conversational() bool { return strings.TrimSpace(r.Query) == "" }

// Generator produces a candidate query (or a conversational answer) for a
// resolved question.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}

// Config controls generator construction.
type Config struct {
	Mode    string
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// New builds a generator for the configured mode. "auto" picks the HTTP
// backend when a URL is configured and falls back to the deterministic mock.
func New(cfg Config) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.URL) != "" {
			return NewHTTPGenerator(cfg), nil
		}
		return NewMock(), nil
	case "http":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("generator URL is required for http mode")
		}
		return NewHTTPGenerator(cfg), nil
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported generator mode %q", cfg.Mode)
	}
}
