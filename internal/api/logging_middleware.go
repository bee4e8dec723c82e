package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// annotatedWriter records the status and collects fields that handlers add
// for the request's completion log.
type annotatedWriter struct {
	middleware.WrapResponseWriter
	fields []any
}

func (w *annotatedWriter) annotate(kv ...any) {
	w.fields = append(w.fields, kv...)
}

func (w *annotatedWriter) Flush() {
	if f, ok := w.WrapResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// annotate adds key/value pairs to the completion log of the request served
// by w. Writers not wrapped by the logging middleware ignore it.
func annotate(w http.ResponseWriter, kv ...any) {
	if aw, ok := w.(*annotatedWriter); ok {
		aw.annotate(kv...)
	}
}

// requestFields identifies the request, including the agent it targets.
func requestFields(r *http.Request) []any {
	fields := []any{
		"request_id", middleware.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"route", routePattern(r),
		"query", r.URL.RawQuery,
		"remote_ip", r.RemoteAddr,
		"user_agent", r.UserAgent(),
	}
	if name := chi.URLParam(r, "name"); name != "" {
		fields = append(fields, "agent", name)
	}
	return fields
}

func requestLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			aw := &annotatedWriter{WrapResponseWriter: middleware.NewWrapResponseWriter(w, r.ProtoMajor)}
			next.ServeHTTP(aw, r)

			status := aw.Status()
			if status == 0 {
				status = http.StatusOK
			}
			// Route params are only resolved once routing ran.
			fields := append(requestFields(r),
				"status", status,
				"bytes", aw.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			fields = append(fields, aw.fields...)

			level := slog.LevelInfo
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http request completed", fields...)
		})
	}
}

func recoveryLoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}
				fields := append(requestFields(r), "panic", fmt.Sprint(recovered), "stack", string(debug.Stack()))
				logger.Error("panic recovered", fields...)
				if sw, ok := w.(interface{ Status() int }); ok && sw.Status() != 0 {
					return
				}
				writeError(w, http.StatusInternalServerError, "internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	return middleware.GetReqID(r.Context())
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}
