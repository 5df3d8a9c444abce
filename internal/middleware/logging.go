package middleware

import (
	"net/http"
	"time"

	"github.com/vyrodovalexey/avalimit/internal/observability"
	"github.com/vyrodovalexey/avalimit/internal/util"
)

// Logging returns a middleware that logs HTTP requests. Rejections are
// logged at warn level, server errors at error level.
func Logging(logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := util.NewStatusCapturingResponseWriter(w)
			next.ServeHTTP(rw, r)

			fields := []observability.Field{
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.String("query", r.URL.RawQuery),
				observability.Int("status", rw.StatusCode),
				observability.Int("size", rw.Size),
				observability.Duration("duration", time.Since(start)),
				observability.String("remote_addr", r.RemoteAddr),
				observability.String("user_agent", r.UserAgent()),
			}

			log := logger.WithContext(r.Context())
			switch {
			case rw.StatusCode >= http.StatusInternalServerError:
				log.Error("http request", fields...)
			case rw.StatusCode == http.StatusTooManyRequests:
				log.Warn("http request", fields...)
			default:
				log.Info("http request", fields...)
			}
		})
	}
}
