package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"gwi.com/chat-history/internal/metrics"
)

func NewRouter(apiHandler *APIHandler, log *logrus.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", apiHandler.HealthHandler)
		r.Post("/users/register", apiHandler.RegisterHandler)
		r.Post("/auth/login", apiHandler.LoginHandler)

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Route("/chat", func(r chi.Router) {
				r.Get("/", apiHandler.ListChatsHandler)
				r.Post("/", apiHandler.CreateChatHandler)
				r.Post("/clear-history", apiHandler.ClearHistoryHandler)
				r.Post("/messages/{messageID}/feedback", apiHandler.MessageFeedbackHandler)

				r.Route("/{chatID}", func(r chi.Router) {
					r.Get("/", apiHandler.GetChatDetailsHandler)
					r.Patch("/", apiHandler.RenameChatHandler)
					r.Delete("/", apiHandler.DeleteChatHandler)
					r.Get("/messages", apiHandler.ListMessagesHandler)
					r.Post("/messages", apiHandler.PostMessageHandler)
				})
			})
		})
	})

	return r
}
