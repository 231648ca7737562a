// Package agent provides LLM client factory with middleware chain construction.
package agent

import (
	"fmt"
	"os"
	"time"

	"github.com/matt-house-e/shortlist/pkg/agent/internal/llmimpl/anthropic"
	"github.com/matt-house-e/shortlist/pkg/agent/internal/llmimpl/gemini"
	"github.com/matt-house-e/shortlist/pkg/agent/internal/llmimpl/ollama"
	"github.com/matt-house-e/shortlist/pkg/agent/internal/llmimpl/openaiapi"
	"github.com/matt-house-e/shortlist/pkg/agent/llm"
	"github.com/matt-house-e/shortlist/pkg/agent/middleware/metrics"
	"github.com/matt-house-e/shortlist/pkg/agent/middleware/resilience/retry"
	"github.com/matt-house-e/shortlist/pkg/agent/middleware/resilience/timeout"
	"github.com/matt-house-e/shortlist/pkg/config"
	"github.com/matt-house-e/shortlist/pkg/logx"
)

// Role selects which configured model a client is built for.
type Role string

const (
	// RoleChat drives intake conversation, intent classification and advice.
	RoleChat Role = "chat"
	// RoleSearch drives discovery query execution and candidate extraction.
	RoleSearch Role = "search"
	// RoleEnrich drives per-row field extraction.
	RoleEnrich Role = "enrich"
)

const defaultChatTimeout = 120 * time.Second

// ClientFactory creates LLM clients with properly configured middleware chains.
type ClientFactory struct {
	config          config.Config
	metricsRecorder metrics.Recorder
}

// NewClientFactory creates a new LLM client factory with the given configuration.
func NewClientFactory(cfg config.Config) *ClientFactory {
	return &ClientFactory{
		config:          cfg,
		metricsRecorder: metrics.NewPrometheusRecorder(),
	}
}

// NewClientFactoryWithRecorder creates a factory with a custom metrics recorder.
// Used in tests and when the Prometheus endpoint is disabled.
func NewClientFactoryWithRecorder(cfg config.Config, recorder metrics.Recorder) *ClientFactory {
	return &ClientFactory{
		config:          cfg,
		metricsRecorder: recorder,
	}
}

// CreateClient creates an LLM client for the given role with the full
// middleware chain. The API key is retrieved from the secrets store or
// environment based on the model's provider.
func (f *ClientFactory) CreateClient(role Role, sessionProvider metrics.SessionProvider, logger *logx.Logger) (llm.LLMClient, error) {
	var modelName string
	var timeoutDur time.Duration

	switch role {
	case RoleChat:
		modelName = f.config.Models.Chat
		timeoutDur = defaultChatTimeout
	case RoleSearch:
		modelName = f.config.Models.Search
		timeoutDur = f.config.Search.Timeout
	case RoleEnrich:
		modelName = f.config.Models.Enrich
		timeoutDur = f.config.Enrich.Timeout
	default:
		return nil, fmt.Errorf("unsupported client role: %s", role)
	}

	rawClient, err := f.createRawClient(modelName)
	if err != nil {
		return nil, err
	}

	retryPolicy := retry.NewPolicy(retry.Config{
		MaxAttempts:   f.config.Retry.MaxAttempts,
		InitialDelay:  f.config.Retry.InitialDelay,
		MaxDelay:      f.config.Retry.MaxDelay,
		BackoffFactor: f.config.Retry.BackoffFactor,
		Jitter:        f.config.Retry.Jitter,
	}, nil) // default classifier

	// Middleware chain order: Metrics -> Retry -> Timeout -> RawClient
	client := llm.Chain(rawClient,
		metrics.Middleware(f.metricsRecorder, nil, sessionProvider, logger),
		retry.Middleware(retryPolicy),
		timeout.Middleware(timeoutDur),
	)

	return client, nil
}

// createRawClient builds the provider-specific client for a model.
func (f *ClientFactory) createRawClient(modelName string) (llm.LLMClient, error) {
	provider, err := config.GetModelProvider(modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", modelName, err)
	}

	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}

	switch provider {
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClient(apiKey, modelName), nil
	case config.ProviderOpenAI:
		return openaiapi.NewClient(apiKey, modelName), nil
	case config.ProviderGoogle:
		return gemini.NewGeminiClient(apiKey, modelName), nil
	case config.ProviderOllama:
		host := os.Getenv("OLLAMA_HOST")
		if host == "" {
			host = "http://localhost:11434"
		}
		return ollama.NewOllamaClient(host, modelName), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
