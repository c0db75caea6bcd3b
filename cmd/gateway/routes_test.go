package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/af-corp/vllm-gateway/internal/config"
	"github.com/af-corp/vllm-gateway/internal/gateway"
	"github.com/af-corp/vllm-gateway/internal/ratelimit"
	"github.com/af-corp/vllm-gateway/internal/router"
)

func newTestServer(t *testing.T, backends map[string]string) *httptest.Server {
	t.Helper()
	reg, err := router.NewRegistry(backends)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	cfg := config.DefaultConfig()
	dispatcher := gateway.NewDispatcher(gateway.NewHTTPClient(cfg.Routing), nil)
	handler := gateway.NewHandler(router.New(reg), dispatcher, nil, cfg.Routing.MaxLineBytes)

	srv := httptest.NewServer(newRouter(handler, ratelimit.Middleware(ratelimit.NewLimiter(nil), 0, nil), "/metrics"))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, map[string]string{"m": "http://127.0.0.1:1"})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Errorf("expected 200 OK, got %d %q", resp.StatusCode, body)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Errorf("expected text/plain, got %s", resp.Header.Get("Content-Type"))
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	srv := newTestServer(t, map[string]string{"m": "http://127.0.0.1:1"})

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if id := resp.Header.Get("X-Request-ID"); !strings.HasPrefix(id, "req_") {
		t.Errorf("expected generated request id, got %q", id)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if id := resp.Header.Get("X-Request-ID"); id != "client-supplied" {
		t.Errorf("expected client request id to be echoed, got %q", id)
	}
}

func TestChatCompletionsRoute(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: hello\n\ndata: [DONE]\n\n")
	}))
	defer backend.Close()

	srv := newTestServer(t, map[string]string{"llama-3-8b": backend.URL})

	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json",
		strings.NewReader(`{"model":"llama-3-8b","messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if string(body) != "data: hello\n\ndata: [DONE]\n\n" {
		t.Errorf("unexpected stream %q", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID on streamed response")
	}
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, map[string]string{"m": "http://127.0.0.1:1"})

	resp, err := http.Get(srv.URL + "/v1/completions")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestMetricsRoute(t *testing.T) {
	srv := newTestServer(t, map[string]string{"m": "http://127.0.0.1:1"})

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRequestIDReachesHandlerErrors(t *testing.T) {
	srv := newTestServer(t, map[string]string{"m": "http://127.0.0.1:1"})

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat/completions",
		strings.NewReader(`{"model":"unknown","messages":[]}`))
	req.Header.Set("X-Request-ID", "trace-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if id := resp.Header.Get("X-Request-ID"); id != "trace-42" {
		t.Errorf("expected handler error to carry request id trace-42, got %q", id)
	}
}
