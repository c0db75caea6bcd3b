package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/af-corp/vllm-gateway/internal/config"
	"github.com/af-corp/vllm-gateway/internal/router"
	"github.com/af-corp/vllm-gateway/internal/types"
)

const (
	maxErrorBodyBytes = 1 << 20
	noResponseBody    = "No response body"
)

// NewHTTPClient builds the pooled client shared by all requests. There is no overall
// client timeout: it would also bound reading the stream.
func NewHTTPClient(cfg config.RoutingConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:       cfg.IdleConnTimeout,
			ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
			ForceAttemptHTTP2:     true,
		},
	}
}

// Dispatcher forwards chat completion requests to backends.
type Dispatcher struct {
	client *http.Client
	health *router.HealthTracker
}

// NewDispatcher returns a dispatcher using client. health may be nil.
func NewDispatcher(client *http.Client, health *router.HealthTracker) *Dispatcher {
	return &Dispatcher{client: client, health: health}
}

// Forward POSTs body to the backend's chat completions endpoint. On a 2xx response the
// body is returned unread and the caller owns closing it. Otherwise the error is a
// *types.BackendUnreachableError or a *types.BackendError.
func (d *Dispatcher) Forward(ctx context.Context, backend router.Backend, body []byte) (*http.Response, error) {
	target := backend.ChatCompletionsURL()

	if !d.health.Allow(backend.BaseURL) {
		return nil, &types.BackendUnreachableError{URL: target, Err: router.ErrCircuitOpen}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create backend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := d.client.Do(req)
	if err != nil {
		// A client that went away is not the backend's fault.
		if ctx.Err() == nil {
			d.health.RecordFailure(backend.BaseURL)
		}
		return nil, &types.BackendUnreachableError{URL: target, Err: err}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		d.health.RecordFailure(backend.BaseURL)
	} else {
		d.health.RecordSuccess(backend.BaseURL)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		text := noResponseBody
		if data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes)); err == nil {
			text = string(data)
		}
		return nil, &types.BackendError{Status: resp.StatusCode, Body: text, URL: target}
	}

	return resp, nil
}
