package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/vllm-gateway/internal/httputil"
	"github.com/af-corp/vllm-gateway/internal/telemetry"
	"github.com/af-corp/vllm-gateway/internal/types"
)

const (
	headerRateLimitRequests          = "X-RateLimit-Limit-Requests"
	headerRateLimitRemainingRequests = "X-RateLimit-Remaining-Requests"
	headerRateLimitReset             = "X-RateLimit-Reset-Requests"
	headerRetryAfter                 = "Retry-After"
)

// Middleware returns chi middleware that enforces a per-client requests-per-minute
// limit. Clients are identified by remote IP, so it should run after
// middleware.RealIP when the gateway sits behind a proxy. An rpm of 0 disables it.
func Middleware(limiter *Limiter, rpm int, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rpm <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")
			client := clientIP(r)

			result, _ := limiter.Check(r.Context(), "rpm:"+client, int64(rpm), time.Minute)

			w.Header().Set(headerRateLimitRequests, strconv.Itoa(rpm))
			w.Header().Set(headerRateLimitRemainingRequests, strconv.FormatInt(result.Remaining, 10))
			w.Header().Set(headerRateLimitReset, result.ResetAt.Format(time.RFC3339))

			if !result.Allowed {
				slog.Warn("rate limit exceeded",
					"request_id", reqID,
					"client", client,
					"limit", rpm,
				)
				metrics.RecordRateLimitHit()
				w.Header().Set(headerRetryAfter, strconv.Itoa(int(result.RetryAfter.Round(time.Second).Seconds())))
				httputil.WriteGatewayError(w, reqID, &types.RateLimitedError{Limit: int64(rpm)})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
