package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/logger"
)

// Recovery returns middleware that recovers from panics, logs the stack and
// answers 500 with the standard error envelope.
func Recovery(log *logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.WithContext(r.Context()).Error("Panic recovered", map[string]interface{}{
					"error":  fmt.Sprintf("%v", rec),
					"stack":  string(debug.Stack()),
					"path":   r.URL.Path,
					"method": r.Method,
				})
				errors.Internal(fmt.Errorf("panic: %v", rec)).WriteHTTP(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
