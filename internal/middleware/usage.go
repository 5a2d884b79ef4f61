package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/token_engine/internal/app/domain/record"
	"github.com/R3E-Network/token_engine/internal/logging"
)

// UsageRecorder persists one authenticated call.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, u record.Usage) error
}

// UsageMiddleware records every tenant request once the response status is known.
type UsageMiddleware struct {
	store  UsageRecorder
	logger *logging.Logger
	now    func() time.Time
}

// NewUsageMiddleware creates the usage recorder middleware.
func NewUsageMiddleware(store UsageRecorder, logger *logging.Logger) *UsageMiddleware {
	return &UsageMiddleware{store: store, logger: logger, now: time.Now}
}

// Handler returns the middleware handler. It must run after APIKeyMiddleware.
func (m *UsageMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, ok := TenantFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		usage := record.Usage{
			ID:         uuid.NewString(),
			TenantID:   tc.ID(),
			Method:     r.Method,
			Path:       r.URL.Path,
			StatusCode: rw.statusCode,
			CreatedAt:  m.now().UTC(),
		}
		// Usage is best effort; the response has already been written.
		if err := m.store.RecordUsage(context.WithoutCancel(r.Context()), usage); err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("Failed to record API usage")
		}
	})
}
