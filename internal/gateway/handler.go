package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/af-corp/vllm-gateway/internal/httputil"
	"github.com/af-corp/vllm-gateway/internal/router"
	"github.com/af-corp/vllm-gateway/internal/telemetry"
	"github.com/af-corp/vllm-gateway/internal/types"
)

const maxRequestBodyBytes = 16 << 20

// Handler holds dependencies for the gateway HTTP handlers.
type Handler struct {
	router       *router.Router
	dispatcher   *Dispatcher
	metrics      *telemetry.Metrics
	maxLineBytes int
	maxBodyBytes int64
}

func NewHandler(rt *router.Router, dispatcher *Dispatcher, metrics *telemetry.Metrics, maxLineBytes int) *Handler {
	return &Handler{
		router:       rt,
		dispatcher:   dispatcher,
		metrics:      metrics,
		maxLineBytes: maxLineBytes,
		maxBodyBytes: maxRequestBodyBytes,
	}
}

// ChatCompletions handles POST /v1/chat/completions
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	receivedAt := time.Now()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, reqID, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	req, err := types.ParseChatRequest(body)
	if err != nil {
		h.fail(w, reqID, "", receivedAt, err)
		return
	}

	slog.Info("received chat request", "request_id", reqID, "model", req.Model, "messages", len(req.Messages))

	backend, err := h.router.Resolve(req.Model)
	if err != nil {
		slog.Warn("no backend for model", "request_id", reqID, "model", req.Model)
		h.fail(w, reqID, "", receivedAt, err)
		return
	}

	outbound, err := forceStream(body)
	if err != nil {
		h.fail(w, reqID, req.Model, receivedAt, fmt.Errorf("force stream flag: %w", err))
		return
	}

	slog.Info("routing request",
		"request_id", reqID,
		"model", req.Model,
		"backend", backend.ChatCompletionsURL(),
	)

	dispatchedAt := time.Now()
	resp, err := h.dispatcher.Forward(r.Context(), backend, outbound)
	if err != nil {
		h.fail(w, reqID, req.Model, receivedAt, err)
		return
	}
	upstreamMs := float64(time.Since(dispatchedAt).Milliseconds())

	stream := NewStream(resp.Body, StreamOptions{
		MaxLineBytes: h.maxLineBytes,
		Logger:       slog.With("request_id", reqID, "model", req.Model, "backend", backend.BaseURL),
	})

	h.metrics.StreamStarted()
	result := streamSSE(r.Context(), w, reqID, stream, func(ev Event) {
		h.metrics.RecordStreamEvent(req.Model, ev.Diagnostic)
	})
	h.metrics.StreamFinished()

	totalDuration := time.Since(receivedAt)
	slog.Info("stream completed",
		"request_id", reqID,
		"model", req.Model,
		"backend", backend.BaseURL,
		"events", result.Events,
		"diagnostics", result.Diagnostics,
		"client_gone", result.ClientGone,
		"duration_ms", totalDuration.Milliseconds(),
	)

	h.metrics.RecordRequest(telemetry.RequestLabels{
		Model:      req.Model,
		Status:     strconv.Itoa(http.StatusOK),
		DurationMs: float64(totalDuration.Milliseconds()),
		UpstreamMs: upstreamMs,
	})
}

// fail writes a pre-stream error response. model is empty when the request never
// resolved to a configured model, which keeps arbitrary client input out of metric labels.
func (h *Handler) fail(w http.ResponseWriter, reqID, model string, receivedAt time.Time, err error) {
	status, _ := httputil.Classify(err)
	httputil.WriteGatewayError(w, reqID, err)
	h.metrics.RecordRequest(telemetry.RequestLabels{
		Model:      model,
		Status:     strconv.Itoa(status),
		DurationMs: float64(time.Since(receivedAt).Milliseconds()),
	})
}

// forceStream sets "stream": true on the raw request body, leaving every other byte
// of the client's JSON as it was. Decoders keep the last of duplicate keys, so every
// client-supplied "stream" key is removed before the flag is set.
func forceStream(body []byte) ([]byte, error) {
	for {
		v := gjson.GetBytes(body, "stream")
		if !v.Exists() {
			break
		}
		if !v.Bool() {
			slog.Debug("client requested a non-streaming response, overriding", "stream", v.Raw)
		}
		var err error
		if body, err = sjson.DeleteBytes(body, "stream"); err != nil {
			return nil, err
		}
	}
	return sjson.SetBytes(body, "stream", true)
}

// ListModels handles GET /v1/models
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	models := h.router.Registry().Models()

	data := make([]modelObject, 0, len(models))
	for _, id := range models {
		data = append(data, modelObject{
			ID:      id,
			Object:  "model",
			OwnedBy: "vllm-gateway",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(modelListResponse{
		Object: "list",
		Data:   data,
	})
}

type modelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}
