package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultChatModelName = "gemini-1.5-flash"

	titleSystemInstruction = "You are a helpful assistant that generates concise titles for chat conversations. " +
		"The title should be 3-5 words maximum. Just return the title itself, nothing else."
)

type LLMOptions struct {
	APIKey            string
	Model             string
	SystemInstruction string
}

// LLMService is the Gemini backed Gateway. A service built without a usable
// client stays in the not-configured state for the life of the process.
type LLMService struct {
	client    *genai.Client
	modelName string
	system    string
	log       *logrus.Logger
}

var _ Gateway = (*LLMService)(nil)

func NewLLMService(ctx context.Context, opts LLMOptions, log *logrus.Logger) *LLMService {
	s := &LLMService{
		modelName: opts.Model,
		system:    opts.SystemInstruction,
		log:       log,
	}
	if s.modelName == "" {
		s.modelName = defaultChatModelName
	}

	if opts.APIKey == "" {
		log.Warn("GEMINI_API_KEY is not set, AI service is not configured")
		return s
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		log.WithError(err).Error("failed to create GenAI client, AI service is not configured")
		return s
	}
	s.client = client
	log.WithField("model", s.modelName).Info("Gemini AI model configured")
	return s
}

func (s *LLMService) Configured() bool {
	return s != nil && s.client != nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.log.WithError(err).Warn("error closing GenAI client")
		} else {
			s.log.Info("GenAI client closed")
		}
	}
}

func (s *LLMService) chatSession(history []Turn) *genai.ChatSession {
	model := s.client.GenerativeModel(s.modelName)
	if s.system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(s.system)},
		}
	}
	cs := model.StartChat()
	cs.History = toGeminiHistory(history)
	return cs
}

func (s *LLMService) Complete(ctx context.Context, history []Turn, message string) (string, error) {
	const op = "LLMService.Complete"
	if !s.Configured() {
		return "", ErrNotConfigured
	}

	resp, err := s.chatSession(history).SendMessage(ctx, genai.Text(message))
	if err != nil {
		return "", classifyProviderError(op, err)
	}

	text := strings.Join(textParts(resp), "")
	if strings.TrimSpace(text) == "" {
		return "", E(CodeProviderError, op, MsgProviderError, errors.New("empty response from gemini"))
	}
	return text, nil
}

func (s *LLMService) CompleteStream(ctx context.Context, history []Turn, message string) (Stream, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}

	ctx, cancel := context.WithCancel(ctx)
	it := s.chatSession(history).SendMessageStream(ctx, genai.Text(message))
	return &geminiStream{it: it, cancel: cancel}, nil
}

func (s *LLMService) GenerateTitle(ctx context.Context, basis string) (string, error) {
	const op = "LLMService.GenerateTitle"
	if !s.Configured() {
		return "", ErrNotConfigured
	}

	model := s.client.GenerativeModel(s.modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(titleSystemInstruction)},
	}
	model.SetTemperature(0.3)
	model.SetMaxOutputTokens(20)

	prompt := fmt.Sprintf("Generate a very concise title (3-5 words maximum) for a conversation that starts with or is about: \"%s\".", basis)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classifyProviderError(op, err)
	}

	title := CleanTitle(strings.Join(textParts(resp), ""))
	if title == "" {
		return "", E(CodeProviderError, op, MsgProviderError, errors.New("LLM generated an empty title"))
	}
	return title, nil
}

// CleanTitle strips the quoting and punctuation models like to wrap titles in.
func CleanTitle(title string) string {
	return strings.Trim(title, "\"'`\n\r\t .")
}

// geminiStream adapts the genai response iterator to Stream. A single
// response may carry several text parts; they are handed out one by one.
type geminiStream struct {
	it      *genai.GenerateContentResponseIterator
	cancel  context.CancelFunc
	pending []string
	err     error
}

func (g *geminiStream) Next() (string, error) {
	for len(g.pending) == 0 {
		if g.err != nil {
			return "", g.err
		}
		resp, err := g.it.Next()
		if errors.Is(err, iterator.Done) {
			g.err = iterator.Done
			continue
		}
		if err != nil {
			g.err = classifyProviderError("LLMService.Stream", err)
			continue
		}
		g.pending = textParts(resp)
	}
	frag := g.pending[0]
	g.pending = g.pending[1:]
	return frag, nil
}

func (g *geminiStream) Close() {
	g.cancel()
}

func toGeminiHistory(history []Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, t := range history {
		role := "user"
		if t.Role == RoleModel {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(t.Content)},
		})
	}
	return contents
}

// textParts returns the non-empty text parts of the first candidate.
func textParts(resp *genai.GenerateContentResponse) []string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var parts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok && txt != "" {
			parts = append(parts, string(txt))
		}
	}
	return parts
}

// classifyProviderError maps a provider failure to QuotaExceeded or
// ProviderError. Cancellation is kept in the chain so callers can tell a
// client disconnect apart from a provider fault.
func classifyProviderError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return E(CodeQuotaExceeded, op, MsgQuotaExceeded, err)
	}
	if status.Code(err) == codes.ResourceExhausted {
		return E(CodeQuotaExceeded, op, MsgQuotaExceeded, err)
	}
	return E(CodeProviderError, op, MsgProviderError, err)
}
