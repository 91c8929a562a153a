package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Logger returns access-logging middleware: one "access" line per request
// with method, url, status, latency, byte counts, and user agent, or one
// "error" line with the recovered panic value (and a 500 response) if the
// handler panicked. It recovers panics itself rather than relying solely
// on chi's Recoverer further down the stack, so a panic is never silently
// unlogged.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			var bytesIn int64
			if r.ContentLength > 0 {
				bytesIn = r.ContentLength
			}

			defer func() {
				latency := time.Since(start)
				if rec := recover(); rec != nil {
					ww.WriteHeader(http.StatusInternalServerError)
					log.Error().
						Str("type", "error").
						Str("method", r.Method).
						Str("url", r.URL.String()).
						Interface("panic", rec).
						Dur("latency_ms", latency).
						Msg("panic recovered")
					return
				}

				log.Info().
					Str("type", "access").
					Str("method", r.Method).
					Str("url", r.URL.String()).
					Int("status", ww.Status()).
					Int64("bytes_in", bytesIn).
					Int("bytes_out", ww.BytesWritten()).
					Dur("latency_ms", latency).
					Str("user_agent", r.UserAgent()).
					Str("remote_addr", r.RemoteAddr).
					Msg("request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
