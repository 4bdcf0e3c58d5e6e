package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"fundly/pkg/errors"
	"fundly/pkg/logger"
)

const (
	idempotencyHeader   = "Idempotency-Key"
	maxIdempotencyKey   = 255
	maxCapturedResponse = 1 << 20
)

// IdempotencyMiddleware replays the first response for a repeated
// Idempotency-Key. Concurrent duplicates wait for the first request to
// finish.
type IdempotencyMiddleware struct {
	cache  *redis.Client
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
	logger logger.Logger
}

func NewIdempotencyMiddleware(cache *redis.Client, ttl time.Duration, log logger.Logger) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{
		cache:  cache,
		ttl:    ttl,
		wait:   5 * time.Second,
		poll:   100 * time.Millisecond,
		logger: log,
	}
}

// Require rejects unsafe requests without an Idempotency-Key.
func (m *IdempotencyMiddleware) Require(next http.Handler) http.Handler {
	return m.handle(next, true)
}

// Optional applies idempotency only when the client sends a key.
func (m *IdempotencyMiddleware) Optional(next http.Handler) http.Handler {
	return m.handle(next, false)
}

func (m *IdempotencyMiddleware) handle(next http.Handler, required bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut &&
			r.Method != http.MethodPatch && r.Method != http.MethodDelete {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(idempotencyHeader)
		if key == "" {
			if required {
				jsonError(w, http.StatusBadRequest, "Idempotency-Key header required")
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKey {
			jsonError(w, http.StatusBadRequest, "Idempotency-Key too long")
			return
		}

		dataKey := fmt.Sprintf("idempotency:data:%s:%s:%s", r.Method, r.URL.Path, key)
		lockKey := fmt.Sprintf("idempotency:lock:%s:%s:%s", r.Method, r.URL.Path, key)

		if m.replayCached(w, r, dataKey) {
			return
		}

		ok, err := m.cache.SetNX(r.Context(), lockKey, RequestIDFromContext(r.Context()), m.ttl).Result()
		if err != nil {
			m.logger.Error("Idempotency store unavailable", map[string]interface{}{
				"error": err.Error(),
			})
			jsonError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		if !ok {
			deadline := time.Now().Add(m.wait)
			for time.Now().Before(deadline) {
				select {
				case <-r.Context().Done():
					return
				case <-time.After(m.poll):
				}
				if m.replayCached(w, r, dataKey) {
					return
				}
			}
			jsonError(w, http.StatusConflict, errors.ErrDuplicateRequest.Error())
			return
		}
		defer m.cache.Del(r.Context(), lockKey)

		cw := newCaptureWriter(w, maxCapturedResponse)
		next.ServeHTTP(cw, r)

		if err := m.cacheResponse(r, dataKey, cw); err != nil {
			m.logger.Warn("Failed to cache idempotent response", map[string]interface{}{
				"error": err.Error(),
			})
		}
	})
}

type capturedResponse struct {
	Status  int               `json:"status"`
	Body    []byte            `json:"body"`
	Headers map[string]string `json:"headers"`
}

func (m *IdempotencyMiddleware) replayCached(w http.ResponseWriter, r *http.Request, dataKey string) bool {
	payload, err := m.cache.Get(r.Context(), dataKey).Bytes()
	if err != nil {
		return false
	}

	var cr capturedResponse
	if err := json.Unmarshal(payload, &cr); err != nil {
		return false
	}

	for k, v := range cr.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(cr.Status)
	_, _ = w.Write(cr.Body)
	return true
}

// cacheResponse stores completed responses. Server errors are not stored
// so the client can retry with the same key.
func (m *IdempotencyMiddleware) cacheResponse(r *http.Request, dataKey string, cw *captureWriter) error {
	if cw.status == 0 || cw.status >= http.StatusInternalServerError || len(cw.buf) == 0 || cw.truncated {
		return nil
	}

	payload, err := json.Marshal(capturedResponse{
		Status:  cw.status,
		Body:    cw.buf,
		Headers: cw.headers,
	})
	if err != nil {
		return err
	}
	return m.cache.Set(r.Context(), dataKey, payload, m.ttl).Err()
}

type captureWriter struct {
	http.ResponseWriter
	buf       []byte
	limit     int
	status    int
	truncated bool
	headers   map[string]string
}

func newCaptureWriter(w http.ResponseWriter, limit int) *captureWriter {
	return &captureWriter{
		ResponseWriter: w,
		buf:            make([]byte, 0, 1024),
		limit:          limit,
		headers:        make(map[string]string),
	}
}

func (w *captureWriter) WriteHeader(statusCode int) {
	if w.status != 0 {
		return
	}
	w.status = statusCode
	for k, v := range w.ResponseWriter.Header() {
		if len(v) > 0 {
			w.headers[k] = v[0]
		}
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *captureWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	if space := w.limit - len(w.buf); space >= len(p) {
		w.buf = append(w.buf, p...)
	} else {
		w.truncated = true
	}
	return w.ResponseWriter.Write(p)
}
