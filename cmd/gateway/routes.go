package main

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/af-corp/vllm-gateway/internal/gateway"
)

func newRouter(handler *gateway.Handler, rateLimit func(http.Handler) http.Handler, metricsPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Get("/health", healthHandler)
	if metricsPath != "" {
		r.Handle(metricsPath, promhttp.Handler())
	}
	r.Get("/v1/models", handler.ListModels)

	r.Group(func(r chi.Router) {
		r.Use(rateLimit)
		r.Post("/v1/chat/completions", handler.ChatCompletions)
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "OK")
}

// requestIDMiddleware echoes or generates X-Request-ID on the response. Handlers read
// the ID back from the response header.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func generateRequestID() string {
	return "req_" + uuid.NewString()
}
