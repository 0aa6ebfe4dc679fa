package httpmw

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/classpulse/classpulse/internal/log"
)

// Recover converts handler panics into 500 responses instead of tearing
// down the connection. http.ErrAbortHandler is re-raised untouched. The
// logger is passed explicitly: this middleware sits outside WithLogger in
// the chain, so the request context carries no logger here. onPanic, if
// set, is called after the panic has been logged.
func Recover(logger log.Logger, onPanic func(r *http.Request)) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
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

				ctx := r.Context()
				logger.Error(ctx, fmt.Errorf("panic: %v", rec), "handler panic",
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)
				if onPanic != nil {
					onPanic(r)
				}

				// headers may already be out; best effort
				w.WriteHeader(http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
