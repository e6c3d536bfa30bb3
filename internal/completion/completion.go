package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// ErrUnavailable wraps every failure to obtain a completion: transport errors,
// non-2xx statuses and empty responses alike.
var ErrUnavailable = errors.New("text completion unavailable")

// Client turns a prompt into generated text.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Ping(ctx context.Context) error
}

type Config struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

func New(cfg Config) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOllama:
		return NewOllamaClient(cfg)
	case ProviderOpenAI:
		return NewOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported completion provider %q", cfg.Provider)
	}
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

func normalizeBaseURL(value string) string {
	return strings.TrimRight(strings.TrimSpace(value), "/")
}

func clientTimeout(value time.Duration) time.Duration {
	if value <= 0 {
		return 30 * time.Second
	}
	return value
}
