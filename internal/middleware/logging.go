package middleware

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// responseTracker remembers what the handler wrote so the access log can
// report it after the fact.
type responseTracker struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (t *responseTracker) WriteHeader(code int) {
	t.status = code
	t.ResponseWriter.WriteHeader(code)
}

func (t *responseTracker) Write(p []byte) (int, error) {
	n, err := t.ResponseWriter.Write(p)
	t.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (t *responseTracker) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}

// Hijack keeps websocket upgrades working behind the access log.
func (t *responseTracker) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := t.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	t.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// levelFor maps a response status to a log level: server errors are errors,
// client errors are warnings.
func levelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// RequestLogger writes one access-log line per request, tagged with the
// request id when RequestID ran first.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()
			tracker := &responseTracker{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(tracker, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", tracker.status),
				slog.Int("bytes", tracker.bytes),
				slog.Duration("elapsed", time.Since(began)),
				slog.String("remote", RealIP(r)),
			}
			if id := RequestIDFrom(r.Context()); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}
			logger.LogAttrs(r.Context(), levelFor(tracker.status), "http request", attrs...)
		})
	}
}
