package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"
	"gwi.com/chat-history/internal/metrics"
	"gwi.com/chat-history/internal/store"
)

const (
	maxTitleLength = 255
	titleTimeout   = 30 * time.Second
)

// Store is the persistence the chat service relies on.
type Store interface {
	messageLister
	CreateChat(ctx context.Context, userID int64, title string) (*store.Chat, error)
	GetChatByID(ctx context.Context, chatID string, userID int64) (*store.Chat, error)
	GetChatsByUserID(ctx context.Context, userID int64) ([]store.Chat, error)
	UpdateChatTitle(ctx context.Context, chatID string, userID int64, title string) (bool, error)
	DeleteChat(ctx context.Context, chatID string, userID int64) (bool, error)
	DeleteChatsByUserID(ctx context.Context, userID int64) (int64, error)
	CreateMessage(ctx context.Context, msg *store.Message) error
	GetMessageWithOwner(ctx context.Context, messageID string) (*store.MessageOwner, error)
	UpsertFeedback(ctx context.Context, fb *store.Feedback) error
}

type ChatOptions struct {
	HistoryLimit int
	AutoTitle    bool
}

type ChatService struct {
	dbStore   Store
	history   *HistoryAssembler
	llm       Gateway
	log       *logrus.Logger
	autoTitle bool
	titles    sync.WaitGroup
}

func NewChatService(db Store, llm Gateway, log *logrus.Logger, opts ChatOptions) *ChatService {
	return &ChatService{
		dbStore:   db,
		history:   NewHistoryAssembler(db, opts.HistoryLimit),
		llm:       llm,
		log:       log,
		autoTitle: opts.AutoTitle,
	}
}

// Exchange is the result of a buffered submission.
type Exchange struct {
	UserMessage store.Message
	AIMessage   store.Message
}

// StreamWriter receives a streamed reply. Begin is called once, after the
// provider produced its first fragment and before any Write; returning an
// error from either means the client is gone.
type StreamWriter interface {
	Begin(userMessage store.Message) error
	Write(fragment string) error
}

func (s *ChatService) CreateChat(ctx context.Context, userID int64, title string) (*store.Chat, error) {
	const op = "ChatService.CreateChat"
	title = strings.TrimSpace(title)
	if err := validateTitle(op, title, true); err != nil {
		return nil, err
	}
	chat, err := s.dbStore.CreateChat(ctx, userID, title)
	if err != nil {
		return nil, E(CodeInternal, op, "Failed to create chat.", err)
	}
	return chat, nil
}

func (s *ChatService) ListChats(ctx context.Context, userID int64) ([]store.Chat, error) {
	chats, err := s.dbStore.GetChatsByUserID(ctx, userID)
	if err != nil {
		return nil, E(CodeInternal, "ChatService.ListChats", "Failed to list chats.", err)
	}
	return chats, nil
}

func (s *ChatService) GetChat(ctx context.Context, chatID string, userID int64) (*store.Chat, []store.Message, error) {
	const op = "ChatService.GetChat"
	chat, err := s.ownedChat(ctx, op, chatID, userID)
	if err != nil {
		return nil, nil, err
	}
	messages, err := s.dbStore.GetMessagesByChatID(ctx, chatID)
	if err != nil {
		return nil, nil, E(CodeInternal, op, "Failed to load messages.", err)
	}
	return chat, messages, nil
}

func (s *ChatService) ListMessages(ctx context.Context, chatID string, userID int64) ([]store.Message, error) {
	_, messages, err := s.GetChat(ctx, chatID, userID)
	return messages, err
}

func (s *ChatService) RenameChat(ctx context.Context, chatID string, userID int64, title string) (*store.Chat, error) {
	const op = "ChatService.RenameChat"
	title = strings.TrimSpace(title)
	if err := validateTitle(op, title, false); err != nil {
		return nil, err
	}
	ok, err := s.dbStore.UpdateChatTitle(ctx, chatID, userID, title)
	if err != nil {
		return nil, E(CodeInternal, op, "Failed to rename chat.", err)
	}
	if !ok {
		return nil, E(CodeNotFound, op, "Chat not found.", nil)
	}
	return s.ownedChat(ctx, op, chatID, userID)
}

func (s *ChatService) DeleteChat(ctx context.Context, chatID string, userID int64) error {
	const op = "ChatService.DeleteChat"
	ok, err := s.dbStore.DeleteChat(ctx, chatID, userID)
	if err != nil {
		return E(CodeInternal, op, "Failed to delete chat.", err)
	}
	if !ok {
		return E(CodeNotFound, op, "Chat not found.", nil)
	}
	return nil
}

// ClearHistory deletes every chat of userID and returns how many were removed.
func (s *ChatService) ClearHistory(ctx context.Context, userID int64) (int64, error) {
	n, err := s.dbStore.DeleteChatsByUserID(ctx, userID)
	if err != nil {
		return 0, E(CodeInternal, "ChatService.ClearHistory", "Failed to clear chat history.", err)
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "deleted": n}).Info("chat history cleared")
	return n, nil
}

type FeedbackInput struct {
	Rating       int
	FeedbackType string
	Comment      *string
}

// SetFeedback creates or replaces the feedback on a message. Only the owner
// of the message's chat may rate it.
func (s *ChatService) SetFeedback(ctx context.Context, messageID string, userID int64, in FeedbackInput) (*store.Feedback, error) {
	const op = "ChatService.SetFeedback"
	msg, err := s.dbStore.GetMessageWithOwner(ctx, messageID)
	if err != nil {
		return nil, E(CodeInternal, op, "Failed to load message.", err)
	}
	if msg == nil {
		return nil, E(CodeNotFound, op, "Message not found.", nil)
	}
	if msg.OwnerID != userID {
		return nil, E(CodeForbidden, op, "You do not have permission to give feedback on this message.", nil)
	}

	fb := &store.Feedback{
		MessageID:    messageID,
		Rating:       in.Rating,
		FeedbackType: strings.TrimSpace(in.FeedbackType),
		Comment:      in.Comment,
	}
	if err := s.dbStore.UpsertFeedback(ctx, fb); err != nil {
		return nil, E(CodeInternal, op, "Failed to save feedback.", err)
	}
	return fb, nil
}

// Submit stores the user's message, asks the provider for a full reply and
// stores that too. The user message is kept whatever the provider does.
func (s *ChatService) Submit(ctx context.Context, chatID string, userID int64, text string) (*Exchange, error) {
	const op = "ChatService.Submit"
	chat, userMsg, history, err := s.prepare(ctx, op, metrics.ModeBuffered, chatID, userID, text)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	reply, err := s.llm.Complete(ctx, history, userMsg.Content)
	metrics.GatewayLatency.WithLabelValues(metrics.ModeBuffered).Observe(time.Since(start).Seconds())
	if err != nil {
		err = asGatewayError(op, err)
		s.exchangeFailed(metrics.ModeBuffered, chatID, err)
		return nil, err
	}

	aiMsg := store.Message{ChatID: chatID, Content: strings.TrimSpace(reply), IsAIResponse: true}
	if err := s.dbStore.CreateMessage(ctx, &aiMsg); err != nil {
		metrics.Exchanges.WithLabelValues(metrics.ModeBuffered, "store_error").Inc()
		return nil, E(CodeInternal, op, "Failed to store AI message.", err)
	}

	metrics.Exchanges.WithLabelValues(metrics.ModeBuffered, "completed").Inc()
	s.maybeGenerateTitle(chat, userMsg.Content)
	return &Exchange{UserMessage: *userMsg, AIMessage: aiMsg}, nil
}

// SubmitStream is Submit with the reply forwarded fragment by fragment.
//
// Failures before the first fragment are returned and nothing has been
// written to w. Once w.Begin was called the returned error is nil unless the
// reply could not be stored: provider failures are appended to the reply as
// text, and a disconnected client only ends production early. Whatever was
// received from the provider is stored as a single AI message, also when
// the writer panics.
func (s *ChatService) SubmitStream(ctx context.Context, chatID string, userID int64, text string, w StreamWriter) (aiMsg *store.Message, err error) {
	const op = "ChatService.SubmitStream"
	chat, userMsg, history, err := s.prepare(ctx, op, metrics.ModeStream, chatID, userID, text)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	stream, err := s.llm.CompleteStream(ctx, history, userMsg.Content)
	if err != nil {
		err = asGatewayError(op, err)
		s.exchangeFailed(metrics.ModeStream, chatID, err)
		return nil, err
	}
	defer stream.Close()

	first, err := stream.Next()
	metrics.GatewayLatency.WithLabelValues(metrics.ModeStream).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, iterator.Done) {
			err = E(CodeProviderError, op, MsgProviderError, errors.New("provider returned an empty stream"))
		}
		err = asGatewayError(op, err)
		s.exchangeFailed(metrics.ModeStream, chatID, err)
		return nil, err
	}

	acc := &replyAccumulator{}
	acc.add(first)
	outcome := "aborted"
	defer func() {
		stream.Close()
		msg, perr := s.persistReply(ctx, chatID, acc.String())
		if perr != nil {
			metrics.Exchanges.WithLabelValues(metrics.ModeStream, "store_error").Inc()
			s.log.WithError(perr).WithField("chat_id", chatID).Error("failed to store streamed reply")
			aiMsg, err = nil, E(CodeInternal, op, "Failed to store AI message.", perr)
			return
		}
		aiMsg = msg

		metrics.Exchanges.WithLabelValues(metrics.ModeStream, outcome).Inc()
		if outcome != "completed" {
			metrics.PartialReplies.WithLabelValues(outcome).Inc()
		}
		s.log.WithFields(logrus.Fields{
			"chat_id":   chatID,
			"outcome":   outcome,
			"fragments": acc.fragments,
		}).Info("streamed reply finished")
		if outcome == "completed" {
			s.maybeGenerateTitle(chat, userMsg.Content)
		}
	}()

	outcome = s.drain(ctx, stream, w, *userMsg, first, acc)
	return nil, nil
}

// drain forwards fragments to w until the stream ends, the provider fails or
// the client goes away, and reports which of those happened. Every fragment
// taken from the stream is added to acc before it is written.
func (s *ChatService) drain(ctx context.Context, stream Stream, w StreamWriter, userMsg store.Message, first string, acc *replyAccumulator) string {
	if err := w.Begin(userMsg); err != nil {
		return "disconnected"
	}
	if err := w.Write(first); err != nil {
		return "disconnected"
	}
	metrics.StreamFragments.Inc()

	for {
		frag, err := stream.Next()
		if errors.Is(err, iterator.Done) {
			return "completed"
		}
		if err != nil {
			if ctx.Err() != nil {
				return "disconnected"
			}
			s.log.WithError(err).WithField("chat_id", userMsg.ChatID).Warn("AI stream failed mid-reply")
			suffix := "\n\n" + PublicMessage(asGatewayError("ChatService.SubmitStream", err))
			acc.add(suffix)
			_ = w.Write(suffix)
			return "provider_error"
		}

		acc.add(frag)
		if err := w.Write(frag); err != nil {
			return "disconnected"
		}
		metrics.StreamFragments.Inc()
	}
}

// persistReply stores the trimmed reply if any. The request context may
// already be cancelled by a disconnect, so the write is detached from it.
func (s *ChatService) persistReply(ctx context.Context, chatID, content string) (*store.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}
	msg := &store.Message{ChatID: chatID, Content: content, IsAIResponse: true}
	if err := s.dbStore.CreateMessage(context.WithoutCancel(ctx), msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// prepare runs the steps shared by both modes: validate, check ownership,
// store the user message, check the provider and assemble the history.
func (s *ChatService) prepare(ctx context.Context, op, mode, chatID string, userID int64, text string) (*store.Chat, *store.Message, []Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, nil, E(CodeValidation, op, "Message content cannot be empty.", nil)
	}

	chat, err := s.ownedChat(ctx, op, chatID, userID)
	if err != nil {
		return nil, nil, nil, err
	}

	userMsg := &store.Message{ChatID: chatID, Content: text}
	if err := s.dbStore.CreateMessage(ctx, userMsg); err != nil {
		return nil, nil, nil, E(CodeInternal, op, "Failed to store message.", err)
	}

	if !s.llm.Configured() {
		err := E(CodeNotConfigured, op, MsgNotConfigured, nil)
		s.exchangeFailed(mode, chatID, err)
		return nil, nil, nil, err
	}

	history, err := s.history.Assemble(ctx, chatID, userMsg.ID)
	if err != nil {
		return nil, nil, nil, E(CodeInternal, op, "Failed to load chat history.", err)
	}
	return chat, userMsg, history, nil
}

func (s *ChatService) ownedChat(ctx context.Context, op, chatID string, userID int64) (*store.Chat, error) {
	chat, err := s.dbStore.GetChatByID(ctx, chatID, userID)
	if err != nil {
		return nil, E(CodeInternal, op, "Failed to load chat.", err)
	}
	if chat == nil {
		return nil, E(CodeNotFound, op, "Chat not found.", nil)
	}
	return chat, nil
}

func (s *ChatService) exchangeFailed(mode, chatID string, err error) {
	code := CodeOf(err)
	metrics.Exchanges.WithLabelValues(mode, strings.ToLower(string(code))).Inc()
	s.log.WithError(err).WithFields(logrus.Fields{
		"chat_id": chatID,
		"mode":    mode,
		"code":    code,
	}).Warn("AI exchange failed")
}

// asGatewayError makes sure anything coming out of a Gateway carries one of
// the gateway codes.
func asGatewayError(op string, err error) error {
	switch CodeOf(err) {
	case CodeNotConfigured, CodeQuotaExceeded, CodeProviderError:
		return err
	}
	return E(CodeProviderError, op, MsgProviderError, err)
}

func (s *ChatService) maybeGenerateTitle(chat *store.Chat, basis string) {
	if !s.autoTitle || chat.Title != store.DefaultChatTitle {
		return
	}
	s.titles.Add(1)
	go func() {
		defer s.titles.Done()
		s.generateAndSaveChatTitle(chat.ID, chat.UserID, basis)
	}()
}

func (s *ChatService) generateAndSaveChatTitle(chatID string, userID int64, basis string) {
	ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
	defer cancel()

	log := s.log.WithField("chat_id", chatID)
	title, err := s.llm.GenerateTitle(ctx, basis)
	if err != nil {
		log.WithError(err).Warn("failed to generate chat title")
		return
	}
	title = truncateRunes(CleanTitle(title), maxTitleLength)
	if title == "" {
		return
	}
	if _, err := s.dbStore.UpdateChatTitle(ctx, chatID, userID, title); err != nil {
		log.WithError(err).Warn("failed to save generated chat title")
		return
	}
	log.WithField("title", title).Info("generated chat title")
}

// WaitBackground blocks until pending title generations have finished.
func (s *ChatService) WaitBackground() {
	s.titles.Wait()
}

func validateTitle(op, title string, allowEmpty bool) error {
	if title == "" && !allowEmpty {
		return E(CodeValidation, op, "Title cannot be empty.", nil)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return E(CodeValidation, op, fmt.Sprintf("Title must be at most %d characters.", maxTitleLength), nil)
	}
	return nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

type replyAccumulator struct {
	buf       strings.Builder
	fragments int
}

func (a *replyAccumulator) add(frag string) {
	a.buf.WriteString(frag)
	a.fragments++
}

func (a *replyAccumulator) String() string {
	return a.buf.String()
}
