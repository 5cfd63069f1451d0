package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bfd-etl/pipeline/pkg/logger"
)

// RequestIDHeader carries the request correlation id
const RequestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLog tags each request with a request id, stores a request-scoped
// logger in its context and logs the response status
func RequestLog(log *logger.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		reqLog := log.WithRequestID(requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r.WithContext(reqLog.ToContext(r.Context())))

		reqLog.Debug().
			Str("action", "http_request").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status_code", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request completed")
	}
}
