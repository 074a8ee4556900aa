package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"gwi.com/chat-history/internal/core"
	"gwi.com/chat-history/internal/store"
)

type APIHandler struct {
	chatService *core.ChatService
	accounts    *core.AccountService
	log         *logrus.Logger
}

func NewAPIHandler(cs *core.ChatService, accounts *core.AccountService, log *logrus.Logger) *APIHandler {
	return &APIHandler{chatService: cs, accounts: accounts, log: log}
}

// fail writes err and logs it when it is not the caller's fault.
func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpStatus(core.CodeOf(err)) >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeError(w, err)
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type CredentialsRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type LoginResponse struct {
	Access string      `json:"access"`
	User   *store.User `json:"user"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	user, token, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Access: token, User: user})
}

type CreateChatRequest struct {
	Title string `json:"title"`
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	var req CreateChatRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, err)
		return
	}

	chat, err := h.chatService.CreateChat(r.Context(), user.ID, req.Title)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	chats, err := h.chatService.ListChats(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

type GetChatDetailsResponse struct {
	*store.Chat
	Messages []store.Message `json:"messages"`
}

func (h *APIHandler) GetChatDetailsHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	chatID := chi.URLParam(r, "chatID")

	chat, messages, err := h.chatService.GetChat(r.Context(), chatID, user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, GetChatDetailsResponse{Chat: chat, Messages: messages})
}

type RenameChatRequest struct {
	Title string `json:"title" validate:"required"`
}

func (h *APIHandler) RenameChatHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	chatID := chi.URLParam(r, "chatID")

	var req RenameChatRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	chat, err := h.chatService.RenameChat(r.Context(), chatID, user.ID, req.Title)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *APIHandler) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	chatID := chi.URLParam(r, "chatID")

	if err := h.chatService.DeleteChat(r.Context(), chatID, user.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	chatID := chi.URLParam(r, "chatID")

	messages, err := h.chatService.ListMessages(r.Context(), chatID, user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type PostMessageRequest struct {
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
}

type PostMessageResponse struct {
	UserMessage store.Message `json:"user_message"`
	AIMessage   store.Message `json:"ai_message"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	chatID := chi.URLParam(r, "chatID")

	var req PostMessageRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	if v, err := strconv.ParseBool(r.URL.Query().Get("stream")); err == nil && v {
		req.Stream = true
	}

	if req.Stream {
		h.streamMessage(w, r, chatID, user.ID, req.Message)
		return
	}

	exchange, err := h.chatService.Submit(r.Context(), chatID, user.ID, req.Message)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, PostMessageResponse{
		UserMessage: exchange.UserMessage,
		AIMessage:   exchange.AIMessage,
	})
}

func (h *APIHandler) streamMessage(w http.ResponseWriter, r *http.Request, chatID string, userID int64, text string) {
	sw := newHTTPStreamWriter(w)
	_, err := h.chatService.SubmitStream(r.Context(), chatID, userID, text, sw)
	if err == nil {
		return
	}
	if !sw.begun {
		h.fail(w, r, err)
		return
	}
	// The status line is gone already, the client only sees a cut reply.
	h.log.WithError(err).WithField("chat_id", chatID).Error("streamed reply ended with an error")
}

type FeedbackRequest struct {
	Rating       int     `json:"rating" validate:"required,min=1,max=5"`
	FeedbackType string  `json:"feedback_type" validate:"required,max=50"`
	Comment      *string `json:"comment"`
}

func (h *APIHandler) MessageFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	messageID := chi.URLParam(r, "messageID")

	var req FeedbackRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, err)
		return
	}

	fb, err := h.chatService.SetFeedback(r.Context(), messageID, user.ID, core.FeedbackInput{
		Rating:       req.Rating,
		FeedbackType: req.FeedbackType,
		Comment:      req.Comment,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fb)
}

type ClearHistoryResponse struct {
	Message string `json:"message"`
	Deleted int64  `json:"deleted"`
}

func (h *APIHandler) ClearHistoryHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())

	n, err := h.chatService.ClearHistory(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ClearHistoryResponse{Message: "Chat history cleared.", Deleted: n})
}
