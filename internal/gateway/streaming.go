package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/af-corp/vllm-gateway/internal/httputil"
)

// streamResult summarises a relayed stream.
type streamResult struct {
	Events      int
	Diagnostics int
	ClientGone  bool
}

// streamSSE commits a 200 text/event-stream response and writes each event as it is
// produced, flushing after every event. It stops pulling from the backend as soon as
// a write to the client fails.
func streamSSE(ctx context.Context, w http.ResponseWriter, reqID string, stream *Stream, onEvent func(Event)) streamResult {
	var result streamResult

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w, reqID, "Streaming not supported")
		stream.body.Close()
		return result
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range stream.Events(ctx) {
		if err := writeEvent(w, ev.Data); err != nil {
			slog.Info("client went away, closing backend stream", "request_id", reqID, "error", err)
			result.ClientGone = true
			break
		}
		flusher.Flush()

		result.Events++
		if ev.Diagnostic {
			result.Diagnostics++
		}
		if onEvent != nil {
			onEvent(ev)
		}
	}

	if ctx.Err() != nil {
		result.ClientGone = true
	}
	return result
}

// writeEvent frames data as one server-sent event. Multi-line data becomes several
// data fields so the framing stays intact.
func writeEvent(w io.Writer, data string) error {
	var b strings.Builder
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}
