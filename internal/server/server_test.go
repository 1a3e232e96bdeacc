package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/deixis/fabricbridge/internal/gateway"
	"github.com/deixis/fabricbridge/internal/journal"
	"github.com/deixis/fabricbridge/internal/runner"
)

type fakeBackend struct {
	out      string
	models   []gateway.Model
	patterns []string
	err      error

	lastPattern, lastModel, lastText, lastURL string
}

func (f *fakeBackend) ApplyPattern(_ context.Context, pattern, model, text string) (string, error) {
	f.lastPattern, f.lastModel, f.lastText = pattern, model, text
	return f.out, f.err
}

func (f *fakeBackend) ApplyPatternToVideo(_ context.Context, pattern, model, url string) (string, error) {
	f.lastPattern, f.lastModel, f.lastURL = pattern, model, url
	return f.out, f.err
}

func (f *fakeBackend) SetModel(_ context.Context, model string) (string, error) {
	f.lastModel = model
	return f.out, f.err
}

func (f *fakeBackend) ListModels(context.Context) ([]gateway.Model, error) {
	return f.models, f.err
}

func (f *fakeBackend) ListPatterns(context.Context) ([]string, error) {
	return f.patterns, f.err
}

func newTestServer(b Backend, opts ...Option) *Server {
	return New(Config{
		Addr:           "127.0.0.1:0",
		AllowedOrigins: []string{"http://localhost", "http://127.0.0.1", "app://obsidian.md"},
		Platform:       "linux",
		Invocation:     "direct",
	}, b, opts...)
}

func do(t *testing.T, s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Host = "127.0.0.1:49152"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rr.Body.String(), err)
	}
}

func TestFabric_OK(t *testing.T) {
	b := &fakeBackend{out: "# SUMMARY\n"}
	s := newTestServer(b)
	rr := do(t, s, "POST", "/fabric", `{"pattern":"summarize","model":"gpt-4","data":"some text"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	var got outputBody
	decodeBody(t, rr, &got)
	if got.Output != "# SUMMARY\n" {
		t.Errorf("output = %q", got.Output)
	}
	if b.lastPattern != "summarize" || b.lastModel != "gpt-4" || b.lastText != "some text" {
		t.Errorf("backend got %q %q %q", b.lastPattern, b.lastModel, b.lastText)
	}
}

func TestFabric_MissingFields(t *testing.T) {
	s := newTestServer(&fakeBackend{})
	rr := do(t, s, "POST", "/fabric", `{"data":"x"}`, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	var got errorBody
	decodeBody(t, rr, &got)
	if !strings.Contains(got.Detail, "pattern") {
		t.Errorf("detail = %q, want pattern named", got.Detail)
	}

	rr = do(t, s, "POST", "/yt", `{"pattern":"summarize"}`, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("/yt status = %d, want 422", rr.Code)
	}
	decodeBody(t, rr, &got)
	if !strings.Contains(got.Detail, "url") || strings.Contains(got.Detail, "model") {
		t.Errorf("detail = %q, want only url named", got.Detail)
	}
}

func TestFabric_EmptyModelUsesDefault(t *testing.T) {
	b := &fakeBackend{out: "done"}
	s := newTestServer(b)
	rr := do(t, s, "POST", "/fabric", `{"pattern":"summarize","model":"","data":"x"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	if b.lastModel != "" {
		t.Errorf("model = %q, want empty", b.lastModel)
	}

	rr = do(t, s, "POST", "/yt", `{"pattern":"summarize","url":"https://youtu.be/abc"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("/yt status = %d, body = %s", rr.Code, rr.Body)
	}
}

func TestFabric_TruncatedOutput(t *testing.T) {
	b := &fakeBackend{err: &gateway.OutputTruncatedError{Tool: "fabric", RunID: "run-9"}}
	s := newTestServer(b)
	rr := do(t, s, "POST", "/fabric", `{"pattern":"summarize","data":"x"}`, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	var got errorBody
	decodeBody(t, rr, &got)
	if got.RunID != "run-9" || got.ExitCode != nil {
		t.Errorf("body = %+v, want run_id run-9 without exit_code", got)
	}
}

func TestFabric_MalformedJSON(t *testing.T) {
	s := newTestServer(&fakeBackend{})
	rr := do(t, s, "POST", "/fabric", `{"pattern":`, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
}

func TestFabric_BodyTooLarge(t *testing.T) {
	s := New(Config{MaxBody: 16}, &fakeBackend{})
	rr := do(t, s, "POST", "/fabric", `{"pattern":"summarize","model":"gpt-4","data":"way too long"}`, nil)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rr.Code)
	}
}

func TestFabric_ExecutionFailure(t *testing.T) {
	b := &fakeBackend{err: &runner.ExecutionFailure{
		RunID: "run-42", Command: "fabric -sp summarize", ExitCode: 3, Stderr: "model not found\n",
	}}
	s := newTestServer(b)
	rr := do(t, s, "POST", "/fabric", `{"pattern":"summarize","model":"nope","data":"x"}`, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	var got errorBody
	decodeBody(t, rr, &got)
	if got.ExitCode == nil || *got.ExitCode != 3 {
		t.Errorf("exit_code = %v, want 3", got.ExitCode)
	}
	if got.RunID != "run-42" {
		t.Errorf("run_id = %q", got.RunID)
	}
	if !strings.Contains(got.Detail, "model not found") {
		t.Errorf("detail = %q, want stderr", got.Detail)
	}
}

func TestFabric_InvalidArgument(t *testing.T) {
	b := &fakeBackend{err: fmt.Errorf("%w: pattern must not start with '-'", gateway.ErrInvalidArgument)}
	s := newTestServer(b)
	rr := do(t, s, "POST", "/fabric", `{"pattern":"-x","model":"gpt-4","data":""}`, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
}

func TestFabric_MethodNotAllowed(t *testing.T) {
	s := newTestServer(&fakeBackend{})
	rr := do(t, s, "GET", "/fabric", "", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
}

func TestModels(t *testing.T) {
	b := &fakeBackend{models: []gateway.Model{{Name: "gpt-4"}, {Name: "claude-3"}}}
	s := newTestServer(b)
	rr := do(t, s, "GET", "/models", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	want := `{"data":{"models":[{"name":"gpt-4"},{"name":"claude-3"}]}}`
	if strings.TrimSpace(rr.Body.String()) != want {
		t.Errorf("body = %s, want %s", rr.Body, want)
	}
}

func TestModels_FormatError(t *testing.T) {
	b := &fakeBackend{err: &gateway.FormatError{Tool: "fabric", Reason: "expected a list"}}
	s := newTestServer(b)
	rr := do(t, s, "GET", "/models", "", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	var got errorBody
	decodeBody(t, rr, &got)
	if !strings.Contains(got.Detail, "expected a list") {
		t.Errorf("detail = %q", got.Detail)
	}
}

func TestPatterns(t *testing.T) {
	b := &fakeBackend{patterns: []string{"summarize", "extract_wisdom"}}
	s := newTestServer(b)
	rr := do(t, s, "GET", "/patterns", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	want := `{"data":{"patterns":["summarize","extract_wisdom"]}}`
	if strings.TrimSpace(rr.Body.String()) != want {
		t.Errorf("body = %s, want %s", rr.Body, want)
	}
}

func TestSetModel(t *testing.T) {
	b := &fakeBackend{out: "ok\n"}
	s := newTestServer(b)
	rr := do(t, s, "POST", "/set_model", `{"model":"gpt-4o"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if b.lastModel != "gpt-4o" {
		t.Errorf("model = %q", b.lastModel)
	}
	rr = do(t, s, "POST", "/set_model", `{}`, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty body status = %d, want 422", rr.Code)
	}
}

func TestYT(t *testing.T) {
	b := &fakeBackend{out: "wisdom"}
	s := newTestServer(b)
	rr := do(t, s, "POST", "/yt", `{"pattern":"extract_wisdom","model":"gpt-4","url":"https://youtu.be/abc"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if b.lastURL != "https://youtu.be/abc" {
		t.Errorf("url = %q", b.lastURL)
	}

	b.err = &runner.ExecutionFailure{RunID: "r", Command: "yt", ExitCode: 1, Stderr: "video unavailable"}
	rr = do(t, s, "POST", "/yt", `{"pattern":"extract_wisdom","model":"gpt-4","url":"https://youtu.be/abc"}`, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
}

func TestRuns(t *testing.T) {
	store := journal.NewLRU(4)
	_ = store.Save(&journal.Record{ID: "run-1", Tool: "yt", Command: "yt x", ExitCode: 4, Stderr: "gone"})
	s := newTestServer(&fakeBackend{}, WithJournal(store))

	rr := do(t, s, "GET", "/runs/run-1", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var rec journal.Record
	decodeBody(t, rr, &rec)
	if rec.ExitCode != 4 || rec.Stderr != "gone" {
		t.Errorf("record = %+v", rec)
	}

	rr = do(t, s, "GET", "/runs/unknown", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d, want 404", rr.Code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(&fakeBackend{})
	rr := do(t, s, "GET", "/health", "", nil)
	var got healthBody
	decodeBody(t, rr, &got)
	if got.Status != "ok" || got.Platform != "linux" || got.Invocation != "direct" || got.Version == "" {
		t.Errorf("health = %+v", got)
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(&fakeBackend{patterns: []string{}})

	t.Run("preflight from allowed origin", func(t *testing.T) {
		rr := do(t, s, "OPTIONS", "/fabric", "", map[string]string{
			"Origin":                         "app://obsidian.md",
			"Access-Control-Request-Method":  "POST",
			"Access-Control-Request-Headers": "content-type, x-custom",
		})
		if rr.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rr.Code)
		}
		h := rr.Header()
		if h.Get("Access-Control-Allow-Origin") != "app://obsidian.md" {
			t.Errorf("ACAO = %q", h.Get("Access-Control-Allow-Origin"))
		}
		if h.Get("Access-Control-Allow-Credentials") != "true" {
			t.Errorf("ACAC = %q", h.Get("Access-Control-Allow-Credentials"))
		}
		if h.Get("Access-Control-Allow-Headers") != "content-type, x-custom" {
			t.Errorf("ACAH = %q", h.Get("Access-Control-Allow-Headers"))
		}
		if !strings.Contains(h.Get("Access-Control-Allow-Methods"), "POST") {
			t.Errorf("ACAM = %q", h.Get("Access-Control-Allow-Methods"))
		}
	})

	t.Run("simple request from allowed origin", func(t *testing.T) {
		rr := do(t, s, "GET", "/patterns", "", map[string]string{"Origin": "http://localhost"})
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost" {
			t.Errorf("ACAO = %q", rr.Header().Get("Access-Control-Allow-Origin"))
		}
	})

	t.Run("rejects foreign origin", func(t *testing.T) {
		rr := do(t, s, "GET", "/patterns", "", map[string]string{"Origin": "https://evil.example"})
		if rr.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Error("ACAO set for a rejected origin")
		}
	})

	t.Run("allows requests without origin", func(t *testing.T) {
		rr := do(t, s, "GET", "/patterns", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
	})

	t.Run("rejects foreign host", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/patterns", nil)
		req.Host = "evil.example:49152"
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", rr.Code)
		}
	})
}

func TestIsAllowedHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"", true},
		{"localhost", true},
		{"localhost:49152", true},
		{"127.0.0.1:49152", true},
		{"[::1]:49152", true},
		{"::1", true},
		{"evil.com", false},
		{"192.168.1.1:49152", false},
	}
	for _, tt := range tests {
		if got := isAllowedHost(tt.host); got != tt.want {
			t.Errorf("isAllowedHost(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestServer_StartStop(t *testing.T) {
	s := newTestServer(&fakeBackend{})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != StateRunning {
		t.Errorf("State = %s, want running", s.State())
	}

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err, ok := <-s.Err(); ok {
		t.Errorf("Err() delivered %v, want closed channel", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("Start after Stop succeeded, want error")
	}
	if err := s.Stop(stopCtx); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestServer_StopWithoutStart(t *testing.T) {
	s := newTestServer(&fakeBackend{})
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("State = %s, want stopped", s.State())
	}
}

func TestServer_RefusesNonLoopback(t *testing.T) {
	s := New(Config{Addr: "0.0.0.0:0"}, &fakeBackend{})
	if err := s.Start(context.Background()); err == nil {
		_ = s.Stop(context.Background())
		t.Fatal("Start on 0.0.0.0 succeeded, want error")
	}
	if s.State() != StateStopped {
		t.Errorf("State = %s, want stopped", s.State())
	}
}
