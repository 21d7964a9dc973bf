package observability

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"
)

const traceHeader = "X-Trace-ID"

// Incoming trace ids are echoed into logs and responses, so only short
// token-like values are accepted.
var traceIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// TraceMiddleware adopts the caller's X-Trace-ID or mints one.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if !traceIDPattern.MatchString(traceID) {
			traceID = newTraceID()
		}
		w.Header().Set(traceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(ContextWithTraceID(r.Context(), traceID)))
	})
}

// LoggingMiddleware writes one record per request. Server errors log at
// error level and client errors at warn.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = LoggerOrDiscard(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capture, elapsed := serve(next, w, r)
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("route", routeLabel(r)),
				slog.String("path", r.URL.Path),
				slog.Int("status", capture.status),
				slog.Int("bytes", capture.bytes),
				slog.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if databaseID := r.PathValue("databaseId"); databaseID != "" {
				attrs = append(attrs, slog.String("database_id", databaseID))
			}
			logger.LogAttrs(r.Context(), levelForStatus(capture.status), "http_request", attrs...)
		})
	}
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capture, elapsed := serve(next, w, r)
		labels := []string{r.Method, routeLabel(r), strconv.Itoa(capture.status)}
		httpRequestsTotal.WithLabelValues(labels...).Inc()
		httpRequestDurationSeconds.WithLabelValues(labels...).Observe(elapsed.Seconds())
	})
}

func serve(next http.Handler, w http.ResponseWriter, r *http.Request) (*responseCapture, time.Duration) {
	capture := &responseCapture{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	next.ServeHTTP(capture, r)
	return capture, time.Since(start)
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// routeLabel keeps database and session ids out of metric labels; the mux
// records the matched pattern on the request it was handed.
func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	return r.Pattern
}

type responseCapture struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (c *responseCapture) WriteHeader(status int) {
	if !c.wroteHeader {
		c.status = status
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *responseCapture) Write(body []byte) (int, error) {
	c.wroteHeader = true
	n, err := c.ResponseWriter.Write(body)
	c.bytes += n
	return n, err
}

func (c *responseCapture) Unwrap() http.ResponseWriter { return c.ResponseWriter }

func newTraceID() string {
	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(id[:])
}
