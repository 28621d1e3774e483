package ai

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/hrygo/recall/internal/errors"
)

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// ChatOption overrides per-call generation parameters.
type ChatOption func(*chatOptions)

type chatOptions struct {
	maxTokens    int
	temperature  float32
	systemPrompt string
}

// WithMaxTokens overrides the configured max token budget for one call.
func WithMaxTokens(n int) ChatOption {
	return func(o *chatOptions) { o.maxTokens = n }
}

// WithTemperature overrides the configured temperature for one call.
func WithTemperature(t float32) ChatOption {
	return func(o *chatOptions) { o.temperature = t }
}

// WithSystemPrompt prepends a system message to the conversation.
func WithSystemPrompt(prompt string) ChatOption {
	return func(o *chatOptions) { o.systemPrompt = prompt }
}

// LLMService is the LLM service interface.
type LLMService interface {
	// Chat performs synchronous chat.
	Chat(ctx context.Context, messages []Message, opts ...ChatOption) (string, error)

	// ChatStream performs streaming chat.
	ChatStream(ctx context.Context, messages []Message) (<-chan string, <-chan error)

	// Model returns the configured model name.
	Model() string
}

type llmService struct {
	model       llms.Model
	modelName   string
	maxTokens   int
	temperature float32
	timeout     time.Duration
}

// NewLLMService creates a new LLMService.
func NewLLMService(cfg *LLMConfig) (LLMService, error) {
	var model llms.Model
	var err error

	switch cfg.Provider {
	case "deepseek":
		// DeepSeek is compatible with OpenAI API
		model, err = openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithModel(cfg.Model),
		)

	case "openai":
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)

	case "ollama":
		model, err = ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.BaseURL),
		)

	default:
		return nil, errors.InvalidArgumentf("unsupported LLM provider: %s", cfg.Provider)
	}

	if err != nil {
		return nil, errors.ProviderUnavailable("failed to initialize LLM provider", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultChatTimeout
	}

	return &llmService{
		model:       model,
		modelName:   cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
	}, nil
}

func (s *llmService) Chat(ctx context.Context, messages []Message, opts ...ChatOption) (string, error) {
	options := chatOptions{
		maxTokens:   s.maxTokens,
		temperature: s.temperature,
	}
	for _, opt := range opts {
		opt(&options)
	}

	if options.systemPrompt != "" {
		messages = append([]Message{SystemPrompt(options.systemPrompt)}, messages...)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.model.GenerateContent(ctx, convertMessages(messages),
		llms.WithMaxTokens(options.maxTokens),
		llms.WithTemperature(float64(options.temperature)),
	)
	if err != nil {
		return "", chatError(err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.ProviderUnavailable("empty chat response", nil)
	}

	return resp.Choices[0].Content, nil
}

func (s *llmService) ChatStream(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	contentChan := make(chan string)
	errChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errChan)

		_, err := s.model.GenerateContent(ctx, convertMessages(messages),
			llms.WithMaxTokens(s.maxTokens),
			llms.WithTemperature(float64(s.temperature)),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				select {
				case contentChan <- string(chunk):
				case <-ctx.Done():
					return ctx.Err()
				}
				return nil
			}),
		)

		if err != nil {
			errChan <- chatError(err)
		}
	}()

	return contentChan, errChan
}

func (s *llmService) Model() string {
	return s.modelName
}

func chatError(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Timeout("chat request timed out", err)
	}
	return errors.ProviderUnavailable("chat request failed", err)
}

func convertMessages(messages []Message) []llms.MessageContent {
	llmMessages := make([]llms.MessageContent, len(messages))
	for i, m := range messages {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case "system":
			role = llms.ChatMessageTypeSystem
		case "user":
			role = llms.ChatMessageTypeHuman
		case "assistant":
			role = llms.ChatMessageTypeAI
		}

		llmMessages[i] = llms.MessageContent{
			Role:  role,
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		}
	}
	return llmMessages
}

// Helper for creating system prompts
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// Helper for creating user messages
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// Helper for creating assistant messages
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}
