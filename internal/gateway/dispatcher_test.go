package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/af-corp/vllm-gateway/internal/config"
	"github.com/af-corp/vllm-gateway/internal/router"
	"github.com/af-corp/vllm-gateway/internal/types"
)

func newTestDispatcher(health *router.HealthTracker) *Dispatcher {
	return NewDispatcher(NewHTTPClient(config.DefaultConfig().Routing), health)
}

func TestDispatcher_ForwardSuccess(t *testing.T) {
	var gotPath, gotAccept, gotContentType, gotBody string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAccept = r.Header.Get("Accept")
		gotContentType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: hi\n\n")
	}))
	defer backend.Close()

	d := newTestDispatcher(nil)
	resp, err := d.Forward(context.Background(), router.Backend{Model: "m", BaseURL: backend.URL}, []byte(`{"model":"m","stream":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if gotPath != "/v1/chat/completions" {
		t.Errorf("expected path /v1/chat/completions, got %s", gotPath)
	}
	if gotAccept != "text/event-stream" {
		t.Errorf("expected Accept text/event-stream, got %q", gotAccept)
	}
	if gotContentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", gotContentType)
	}
	if gotBody != `{"model":"m","stream":true}` {
		t.Errorf("expected body forwarded verbatim, got %s", gotBody)
	}

	data, _ := io.ReadAll(resp.Body)
	if string(data) != "data: hi\n\n" {
		t.Errorf("expected stream body to be left unread, got %q", data)
	}
}

func TestDispatcher_BackendErrorKeepsStatusAndBody(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "overloaded")
	}))
	defer backend.Close()

	d := newTestDispatcher(nil)
	_, err := d.Forward(context.Background(), router.Backend{Model: "m", BaseURL: backend.URL}, []byte(`{}`))

	var backendErr *types.BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if backendErr.Status != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", backendErr.Status)
	}
	if backendErr.Body != "overloaded" {
		t.Errorf("expected body %q, got %q", "overloaded", backendErr.Body)
	}
}

func TestDispatcher_UnreachableBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := backend.URL
	backend.Close()

	d := newTestDispatcher(nil)
	_, err := d.Forward(context.Background(), router.Backend{Model: "m", BaseURL: url}, []byte(`{}`))

	var unreachable *types.BackendUnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("expected BackendUnreachableError, got %v", err)
	}
	if unreachable.URL != url+"/v1/chat/completions" {
		t.Errorf("expected error to name the target URL, got %s", unreachable.URL)
	}
}

func TestDispatcher_OpenCircuitSkipsBackend(t *testing.T) {
	var calls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	health := router.NewHealthTracker(config.CircuitBreakerConfig{
		FailureThreshold:      1,
		RecoveryProbeInterval: time.Minute,
	}, nil)
	d := newTestDispatcher(health)
	b := router.Backend{Model: "m", BaseURL: backend.URL}

	_, err := d.Forward(context.Background(), b, []byte(`{}`))
	var backendErr *types.BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("expected BackendError on first call, got %v", err)
	}

	_, err = d.Forward(context.Background(), b, []byte(`{}`))
	if !errors.Is(err, router.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	var unreachable *types.BackendUnreachableError
	if !errors.As(err, &unreachable) {
		t.Errorf("expected open circuit to surface as BackendUnreachableError, got %T", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected backend to be called once, got %d", calls.Load())
	}
}

func TestDispatcher_ClientErrorDoesNotTripCircuit(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"bad prompt"}`)
	}))
	defer backend.Close()

	health := router.NewHealthTracker(config.CircuitBreakerConfig{
		FailureThreshold:      1,
		RecoveryProbeInterval: time.Minute,
	}, nil)
	d := newTestDispatcher(health)
	b := router.Backend{Model: "m", BaseURL: backend.URL}

	for i := 0; i < 3; i++ {
		_, err := d.Forward(context.Background(), b, []byte(`{}`))
		if errors.Is(err, router.ErrCircuitOpen) {
			t.Fatalf("call %d: circuit opened on 4xx responses", i)
		}
	}
}
