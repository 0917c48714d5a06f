package summarization

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// DefaultModel is used when a request does not name one.
const DefaultModel = "gpt-3.5-turbo-0613"

// Summarizer completes a single prompt.
type Summarizer interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// OpenAIOptions controls how the chat completion API is called.
type OpenAIOptions struct {
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
	// RequestsPerSecond throttles outgoing calls. Zero disables throttling.
	RequestsPerSecond float64
}

// DefaultOpenAIOptions returns the settings used by the server.
func DefaultOpenAIOptions() OpenAIOptions {
	return OpenAIOptions{
		SystemPrompt:      "You are a helpful assistant.",
		Temperature:       0,
		RequestsPerSecond: 3,
	}
}

// OpenAISummarizer calls OpenAI's chat completion API. A nil client produces
// deterministic mock responses so pipelines run without credentials.
type OpenAISummarizer struct {
	client  *openai.Client
	opts    OpenAIOptions
	limiter *rate.Limiter
}

// NewClient returns a client for apiKey, or nil when apiKey is empty.
// baseURL overrides the API endpoint when set.
func NewClient(apiKey, baseURL string) *openai.Client {
	if apiKey == "" {
		return nil
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func NewOpenAISummarizer(client *openai.Client, opts OpenAIOptions) *OpenAISummarizer {
	s := &OpenAISummarizer{client: client, opts: opts}
	if opts.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return s
}

// Mock reports whether responses are generated locally.
func (s *OpenAISummarizer) Mock() bool { return s.client == nil }

func (s *OpenAISummarizer) Complete(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = DefaultModel
	}
	if s.client == nil {
		return mockResponse(model, prompt), nil
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}
	if s.opts.SystemPrompt != "" {
		messages = append([]openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: s.opts.SystemPrompt},
		}, messages...)
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: s.opts.Temperature,
		MaxTokens:   s.opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarization: %s completion failed: %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summarization: %s returned empty choice list", model)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func mockResponse(model, prompt string) string {
	first := prompt
	if i := strings.LastIndex(first, "\n"); i >= 0 {
		first = first[i+1:]
	}
	if r := []rune(first); len(r) > 60 {
		first = string(r[:60])
	}
	return fmt.Sprintf("mock %s response for %q", model, strings.TrimSpace(first))
}
