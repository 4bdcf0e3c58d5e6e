package middleware

import (
	"net/http"

	"fundly/pkg/logger"
)

// AuditMiddleware records every admin API call, including who made it and
// how it ended, to the structured log.
type AuditMiddleware struct {
	logger logger.Logger
}

func NewAuditMiddleware(log logger.Logger) *AuditMiddleware {
	return &AuditMiddleware{logger: log}
}

func (m *AuditMiddleware) Audit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := wrapResponseWriter(w)
		next.ServeHTTP(wrapped, r)

		fields := map[string]interface{}{
			"action":     r.Method + " " + r.URL.Path,
			"status":     wrapped.statusCode,
			"ip":         clientIP(r),
			"request_id": RequestIDFromContext(r.Context()),
		}
		if userID, ok := UserIDFromContext(r.Context()); ok {
			fields["user_id"] = userID.String()
		}
		m.logger.Info("Admin action", fields)
	})
}
