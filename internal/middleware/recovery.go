package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"soqlrestore/internal/logging"
)

// RecoveryMiddleware turns a handler panic into a 500 JSON response and logs
// the stack. It must run inside LoggingMiddleware to pick up the request logger.
func RecoveryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}
				logging.FromContext(r.Context()).Error("panic recovered",
					slog.String("panic", fmt.Sprint(recovered)),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)
				WriteJSONError(w, http.StatusInternalServerError, "internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
