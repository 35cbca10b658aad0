package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/yubingjiaocn/mcp-gateway-registry/pkg/log"
)

// WithRequestLogging wraps next with correlation-ID assignment and a
// per-request structured log line, mirroring the access-log shape the
// rest of the module's packages log with via pkg/log.
func WithRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		w.Header().Set("X-Correlation-Id", correlationID)

		logger := log.With(map[string]string{
			"correlation_id": correlationID,
			"method":         r.Method,
			"path":           r.URL.Path,
		})
		ctx := log.IntoContext(r.Context(), logger)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		logger.Info().
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}
