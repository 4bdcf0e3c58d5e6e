package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader is echoed on every response and carried in every log line.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 64

type correlationKey string

const ctxRequestIDKey correlationKey = "request_id"

// CorrelationID adopts the caller's request id when it is well formed and
// mints one otherwise, so upstream proxies and gateways can trace a
// donation through our logs.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(RequestIDHeader)
		if !validRequestID(reqID) {
			reqID = uuid.NewString()
			r.Header.Set(RequestIDHeader, reqID)
		}

		w.Header().Set(RequestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), reqID)))
	})
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, id)
}

// RequestIDFromContext returns "" outside a CorrelationID-wrapped request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestIDKey).(string)
	return id
}

// Ids end up in log lines, so only short printable tokens are accepted.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.' || c == ':':
		default:
			return false
		}
	}
	return true
}
