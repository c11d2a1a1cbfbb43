package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mlodato/sqlsteward/internal/reliability"
)

const systemPromptTemplate = `You are an expert SQL query generator for a human-reviewed query assistant.

Rules:
1. Use ONLY the exact table and column names from the schema below.
2. Do NOT use SELECT * — name the relevant columns.
3. Unless the question asks for more, limit results to 10 rows.
4. Use LIKE with %% wildcards for text matching, lowercase literals.
5. Output the SQL query only, inside a ` + "```sql fence" + `, with no explanations.
6. If the question is general conversation and needs no database access,
   reply with the single line prefix INTENT:CHAT followed by your answer.

DATABASE SCHEMA:
%s

%s`

// HTTPGenerator calls an OpenAI-compatible chat-completions endpoint.
type HTTPGenerator struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

func NewHTTPGenerator(cfg Config) *HTTPGenerator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPGenerator{
		url:    strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		apiKey: strings.TrimSpace(cfg.APIKey),
		model:  strings.TrimSpace(cfg.Model),
		client: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	contextBlock := ""
	if strings.TrimSpace(req.Context) != "" {
		contextBlock = "CONVERSATION CONTEXT (use this to resolve references):\n" + req.Context
	}

	userPrompt := "Question: " + req.Question
	if strings.TrimSpace(req.Feedback) != "" {
		userPrompt += "\n\nUse this reviewer feedback to improve the query: " + req.Feedback
	}

	payload, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(systemPromptTemplate, req.Schema, contextBlock)},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: marshal request: %s", ErrGeneration, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("%w: create request: %s", ErrGeneration, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	res, err := g.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrGeneration, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		if reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return Result{}, fmt.Errorf("%w: %w: status %d: %s", ErrGeneration, ErrBackendUnavailable, res.StatusCode, string(body))
		}
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrGeneration, res.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %s", ErrGeneration, err)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: empty response", ErrGeneration)
	}

	reply := parsed.Choices[0].Message.Content
	if answer, ok := chatReply(reply); ok {
		return Result{Answer: answer}, nil
	}

	query := Sanitize(ExtractSQL(reply))
	if query == "" {
		return Result{}, fmt.Errorf("%w: empty query in response", ErrGeneration)
	}
	return Result{Query: query}, nil
}
