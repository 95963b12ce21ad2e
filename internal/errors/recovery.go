package errors

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	"github.com/copyleftdev/DOCKR/internal/logging"
)

// RecoveryMiddleware recovers from handler panics, logs them with the
// stack and answers 500.
func RecoveryMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
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
				logger.Error("Recovered from panic", map[string]interface{}{
					"error":  rec,
					"stack":  string(debug.Stack()),
					"method": r.Method,
					"path":   r.URL.Path,
					"query":  r.URL.RawQuery,
				})
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// WriteJSON writes err as {"error": ...} with the status from HTTPStatus.
func WriteJSON(w http.ResponseWriter, err error) int {
	status := HTTPStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
	return status
}
