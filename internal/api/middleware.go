package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"gwi.com/chat-history/internal/core"
	"gwi.com/chat-history/internal/store"
)

type ctxKey int

const (
	userCtxKey ctxKey = iota
	requestInfoCtxKey
)

// requestInfo lets inner handlers report back to the request logger.
type requestInfo struct {
	userID int64
}

func userFromContext(ctx context.Context) *store.User {
	user, _ := ctx.Value(userCtxKey).(*store.User)
	return user
}

// RequestLogger writes one structured line per request after it finished.
func RequestLogger(l *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			info := &requestInfo{}
			reqID := middleware.GetReqID(r.Context())
			if reqID != "" {
				ww.Header().Set("X-Request-Id", reqID)
			}

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), requestInfoCtxKey, info)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				path = rctx.RoutePattern()
			}
			entry := l.WithFields(logrus.Fields{
				"request_id": reqID,
				"method":     r.Method,
				"path":       path,
				"status":     status,
				"latency_ms": time.Since(start).Milliseconds(),
				"bytes":      ww.BytesWritten(),
			})
			if info.userID != 0 {
				entry = entry.WithField("user_id", info.userID)
			}

			switch {
			case status >= 500:
				entry.Error("request")
			case status >= 400:
				entry.Warn("request")
			default:
				entry.Info("request")
			}
		})
	}
}

// JWTAuthMiddleware resolves the bearer token to a user and stores it in
// the request context.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeError(w, core.E(core.CodeUnauthorized, "api.JWTAuth", "Authorization header is required.", nil))
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if tokenString == "" {
			writeError(w, core.E(core.CodeUnauthorized, "api.JWTAuth", "Authorization header is required.", nil))
			return
		}

		user, err := h.accounts.Authenticate(r.Context(), tokenString)
		if err != nil {
			if core.CodeOf(err) == core.CodeInternal {
				h.log.WithError(err).Error("failed to authenticate request")
			}
			writeError(w, err)
			return
		}

		if info, ok := r.Context().Value(requestInfoCtxKey).(*requestInfo); ok {
			info.userID = user.ID
		}
		ctx := context.WithValue(r.Context(), userCtxKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
