package middleware

import (
	"io"
	"net/http"
	"runtime/debug"

	"github.com/vyrodovalexey/avalimit/internal/observability"
	"github.com/vyrodovalexey/avalimit/internal/util"
)

// Recovery returns a middleware that recovers from panics. When the handler
// already started the response only the log entry is written.
func Recovery(logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := util.NewStatusCapturingResponseWriter(w)

			defer func() {
				err := recover()
				if err == nil {
					return
				}
				if err == http.ErrAbortHandler {
					panic(err)
				}

				logger.WithContext(r.Context()).Error("panic recovered",
					observability.String("path", r.URL.Path),
					observability.String("method", r.Method),
					observability.Any("error", err),
					observability.String("stack", string(debug.Stack())),
				)

				if rw.HeaderWritten {
					return
				}
				rw.Header().Set(HeaderContentType, ContentTypeJSON)
				rw.WriteHeader(http.StatusInternalServerError)
				_, _ = io.WriteString(rw, ErrInternalServerError)
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
