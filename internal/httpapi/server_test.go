package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mlodato/sqlsteward/internal/config"
	"github.com/mlodato/sqlsteward/internal/executor"
	"github.com/mlodato/sqlsteward/internal/generator"
	"github.com/mlodato/sqlsteward/internal/memory"
	"github.com/mlodato/sqlsteward/internal/observability"
	"github.com/mlodato/sqlsteward/internal/token"
	"github.com/mlodato/sqlsteward/internal/workflow"
)

type stubExecutor struct {
	outcome executor.Outcome
	err     error
}

func (e *stubExecutor) Execute(context.Context, string) (executor.Outcome, error) {
	return e.outcome, e.err
}

func (e *stubExecutor) Ping(context.Context) error { return nil }

type stubSchema struct {
	tables []executor.Table
}

func (s *stubSchema) Schema(context.Context) ([]executor.Table, error) {
	return s.tables, nil
}

var metricsSeq atomic.Int64

func newTestServer(t *testing.T) (*Server, *memory.InMemoryStore) {
	t.Helper()
	store := memory.NewInMemoryStore()
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", metricsSeq.Add(1)))
	codec := token.NewCodec("0123456789abcdef0123456789abcdef", time.Minute)
	exec := &stubExecutor{outcome: executor.Outcome{Summary: "1 row(s) returned: (Alice, 91)"}}
	schema := &stubSchema{tables: []executor.Table{{
		Name:    "students",
		Columns: []executor.Column{{Name: "name", Type: "TEXT"}},
	}}}

	flow := workflow.NewService(store, generator.NewMock(), exec, schema, codec, metrics, workflow.Config{})
	return New(config.Config{}, flow, store, schema, exec, metrics), store
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestQueryEndpointReturnsPendingApproval(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rr := postJSON(t, router, "/v1/query", map[string]string{
		"username": "u1",
		"question": "What are the marks of Alice?",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["kind"] != "pending_approval" {
		t.Fatalf("kind = %v, body = %v", body["kind"], body)
	}
	pending, ok := body["pending"].(map[string]any)
	if !ok || pending["token"] == "" {
		t.Fatalf("pending payload missing token: %v", body)
	}
}

func TestQueryApproveFlow(t *testing.T) {
	srv, store := newTestServer(t)
	router := srv.Router()

	rr := postJSON(t, router, "/v1/query", map[string]string{
		"username": "u1",
		"question": "What are the marks of Alice?",
	})
	pending := decodeBody(t, rr)["pending"].(map[string]any)
	tok := pending["token"].(string)

	rr = postJSON(t, router, "/v1/query/approve", map[string]string{"token": tok})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["kind"] != "answer" {
		t.Fatalf("kind = %v", body["kind"])
	}

	rec, _ := store.Get(context.Background(), "u1")
	if len(rec.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(rec.History))
	}

	// The token is spent: a second approve must be rejected.
	rr = postJSON(t, router, "/v1/query/approve", map[string]string{"token": tok})
	if rr.Code != http.StatusConflict {
		t.Fatalf("replay status = %d, want 409", rr.Code)
	}
	if got := decodeBody(t, rr)["code"]; got != "token_replayed" {
		t.Fatalf("code = %v, want token_replayed", got)
	}
}

func TestQueryRegenerateRequiresFeedback(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rr := postJSON(t, router, "/v1/query", map[string]string{
		"username": "u1",
		"question": "What are the marks of Alice?",
	})
	tok := decodeBody(t, rr)["pending"].(map[string]any)["token"].(string)

	rr = postJSON(t, router, "/v1/query/regenerate", map[string]string{"token": tok})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if got := decodeBody(t, rr)["code"]; got != "feedback_required" {
		t.Fatalf("code = %v", got)
	}

	rr = postJSON(t, router, "/v1/query/regenerate", map[string]string{
		"token":    tok,
		"feedback": "only the top student",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["kind"] != "pending_approval" {
		t.Fatalf("kind = %v", body["kind"])
	}
	if got := body["pending"].(map[string]any)["attempt"]; got != float64(1) {
		t.Fatalf("attempt = %v, want 1", got)
	}
}

func TestQueryValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	rr := postJSON(t, router, "/v1/query", map[string]string{"username": "u1"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing question status = %d, want 400", rr.Code)
	}
	rr = postJSON(t, router, "/v1/query", map[string]string{"question": "hi"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing username status = %d, want 400", rr.Code)
	}
	rr = postJSON(t, router, "/v1/query/approve", map[string]string{"token": "garbage"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("garbage token status = %d, want 409", rr.Code)
	}
}

func TestMemoryCommandEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	router := srv.Router()

	err := store.AppendTurn(context.Background(), "u1", memory.Turn{
		RawQuestion:      "What are the marks of Alice?",
		ResolvedQuestion: "What are the marks of Alice?",
	})
	if err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	rr := postJSON(t, router, "/v1/memory/command", map[string]string{
		"username": "u1",
		"command":  "/history",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["success"] != true {
		t.Fatalf("success = %v", body["success"])
	}

	rr = postJSON(t, router, "/v1/memory/command", map[string]string{
		"username": "u1",
		"command":  "/frobnicate",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("unknown command status = %d, want 200", rr.Code)
	}
	if body := decodeBody(t, rr); body["success"] != false {
		t.Fatalf("unknown command success = %v, want false", body["success"])
	}
}

func TestUserHistoryAndClearEndpoints(t *testing.T) {
	srv, store := newTestServer(t)
	router := srv.Router()

	err := store.AppendTurn(context.Background(), "u1", memory.Turn{
		RawQuestion:      "hello",
		ResolvedQuestion: "hello",
	})
	if err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/memory/u1/history", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("history status = %d", rr.Code)
	}
	data := decodeBody(t, rr)["data"].(map[string]any)
	if data["total_interactions"] != float64(1) {
		t.Fatalf("total_interactions = %v, want 1", data["total_interactions"])
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/memory/u1", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rr.Code)
	}

	rec, _ := store.Get(context.Background(), "u1")
	if len(rec.History) != 0 {
		t.Fatalf("history length = %d after clear, want 0", len(rec.History))
	}
}

func TestListUsersEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	router := srv.Router()

	for _, u := range []string{"bob", "alice"} {
		if err := store.AppendTurn(context.Background(), u, memory.Turn{RawQuestion: "hi", ResolvedQuestion: "hi"}); err != nil {
			t.Fatalf("AppendTurn failed: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["total_users"] != float64(2) {
		t.Fatalf("total_users = %v, want 2", body["total_users"])
	}
}

func TestSchemaEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/v1/schema", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["raw"] == "" {
		t.Fatalf("raw schema rendering missing: %v", body)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["status"] != "ready" {
		t.Fatalf("status = %v", body["status"])
	}
}
