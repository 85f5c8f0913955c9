package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const defaultMaxTokens = 2048

type Message struct {
	Role    string
	Content string
}

type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL    string
	maxTokens  int
	jsonOutput bool
}

// ErrTruncated means the model stopped at the token limit, so the
// completion is incomplete.
var ErrTruncated = errors.New("completion truncated at token limit")

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithMaxTokens caps the length of a completion.
func WithMaxTokens(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithJSONOutput asks providers that support it to reply with a JSON object.
func WithJSONOutput() Option {
	return func(o *clientOptions) { o.jsonOutput = true }
}

// ParseModel splits a "provider/model" string.
func ParseModel(model string) (provider, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return parts[0], parts[1], nil
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, o)
	case "anthropic":
		return newAnthropicClient(apiKey, model, o)
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
}

// Keys holds one API key per provider.
type Keys map[string]string

var ErrMissingKey = errors.New("missing API key")

// FromModel builds a client for a "provider/model" string using the matching key.
func FromModel(name string, keys Keys, opts ...Option) (Client, error) {
	provider, model, err := ParseModel(name)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(keys[provider])
	if key == "" {
		return nil, fmt.Errorf("%s: %w", provider, ErrMissingKey)
	}
	return NewClient(provider, key, model, opts...)
}

// ExtractJSONObject decodes the first {...} object found in a completion into
// dst. Models often wrap JSON in prose or code fences.
func ExtractJSONObject(text string, dst any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), dst); err != nil {
		return fmt.Errorf("decode JSON object: %w", err)
	}
	return nil
}
