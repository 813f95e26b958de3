package server

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"sdcpp_server/logging"
)

// RequestRecorder receives one observation per HTTP request.
// *metrics.Metrics implements it.
type RequestRecorder interface {
	RecordRequest(method, route string, status int, duration time.Duration)
}

// unmatchedRoute labels requests no route matched, keeping metric
// cardinality bounded.
const unmatchedRoute = "unmatched"

// accessLog logs every request through zap and records it with rec when
// rec is not nil.
func accessLog(logger *logging.Logger, rec RequestRecorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		fields := logging.HTTPFields(r.Method, r.URL.Path, wrapped.statusCode, wrapped.bytesWritten, duration, clientIP(r))
		if ua := r.UserAgent(); ua != "" {
			fields = append(fields, zap.String("user_agent", ua))
		}

		switch {
		case wrapped.statusCode >= 500:
			logger.Warn("request failed", fields...)
		case r.URL.Path == healthPath:
			logger.Debug("request", fields...)
		default:
			logger.Info("request", fields...)
		}

		if rec != nil {
			rec.RecordRequest(r.Method, routeLabel(r), wrapped.statusCode, duration)
		}
	})
}

// routeLabel returns the matched path pattern without its method, e.g.
// "/v1/images/generations". r.Pattern is set by ServeMux during dispatch.
func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return unmatchedRoute
	}
	if _, path, ok := strings.Cut(r.Pattern, " "); ok {
		return path
	}
	return r.Pattern
}

// responseWriterWrapper captures the status code and body size.
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.statusCode = statusCode
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriterWrapper) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseWriterWrapper) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// clientIP prefers the first X-Forwarded-For entry, then X-Real-IP, then
// the connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
