package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/esnunes/repeater/internal/client"
)

const headerRequestID = "X-Request-Id"

type ctxKey int

const (
	loggerKey ctxKey = iota
	userKey
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withRequest tags every request with an id and the acting user, and logs
// it once served.
func (s *Server) withRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		logger := s.logger.With("request_id", id)

		userID := s.defaultUser
		if h := r.Header.Get(client.HeaderUser); h != "" {
			v, err := strconv.ParseInt(h, 10, 64)
			if err != nil || v <= 0 {
				logger.Info("bad user header", "value", h)
				http.Error(w, "Bad Request", http.StatusBadRequest)
				return
			}
			userID = v
		}
		logger = logger.With("user", userID)

		ctx := context.WithValue(r.Context(), loggerKey, logger)
		ctx = context.WithValue(ctx, userKey, userID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func (s *Server) log(r *http.Request) *slog.Logger {
	if l, ok := r.Context().Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return s.logger
}

func userID(r *http.Request) int64 {
	id, _ := r.Context().Value(userKey).(int64)
	return id
}
