// Package ai provides the chat capability agents use to interpret market
// data. Providers are selected from the endpoint and model name.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client turns a system prompt and user content into a text reply.
type Client interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// ErrEmptyResponse is returned when a provider replies without text.
var ErrEmptyResponse = errors.New("ai response content is empty")

// Provider names a wire protocol.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// Endpoint is a resolved AI service and model.
type Endpoint struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Label renders "service/model" for notification footers.
func Label(service, model string) string {
	if service == "" {
		return model
	}
	return service + "/" + model
}

// Policy bounds every request made through a Client built by New.
type Policy struct {
	Timeout     time.Duration
	MaxTokens   int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Observer receives the outcome of each provider call.
type Observer func(provider Provider, err error, elapsed time.Duration)

// Options configures New.
type Options struct {
	HTTPClient *http.Client
	Policy     Policy
	Limiter    *Limiter
	Logger     *slog.Logger
	Observe    Observer
}

// DetectProvider picks the wire protocol for an endpoint and model.
func DetectProvider(baseURL, model string) Provider {
	if isGeminiRequest(baseURL, model) {
		return ProviderGemini
	}
	if isAnthropicRequest(baseURL, model) {
		return ProviderAnthropic
	}
	return ProviderOpenAI
}

// New builds a Client for ep. The returned client applies rate limiting,
// the request timeout and the retry policy around the provider call.
func New(ctx context.Context, ep Endpoint, opts Options) (Client, error) {
	if strings.TrimSpace(ep.Model) == "" {
		return nil, errors.New("ai model is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	maxTokens := opts.Policy.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	provider := DetectProvider(ep.BaseURL, ep.Model)
	var base Client
	var err error
	switch provider {
	case ProviderGemini:
		if shouldFallbackToGeminiDefaultBaseURL(ep.BaseURL) {
			logger.Warn("gemini model configured with openai base url; using gemini base url",
				"configured_endpoint", ep.BaseURL, "fallback_base_url", defaultGeminiBaseURL)
		}
		base, err = newGeminiClient(ctx, ep, hc, maxTokens)
	case ProviderAnthropic:
		base = newAnthropicClient(ep, hc, maxTokens)
	default:
		base = newOpenAIClient(ep, hc, maxTokens)
	}
	if err != nil {
		return nil, err
	}

	return &policyClient{
		provider: provider,
		next:     base,
		policy:   opts.Policy,
		limiter:  opts.Limiter,
		logger:   logger.With("provider", string(provider), "model", ep.Model),
		observe:  opts.Observe,
		sleep:    sleepContext,
	}, nil
}

func isGeminiRequest(endpointURL, model string) bool {
	modelLower := strings.ToLower(strings.TrimSpace(model))
	if strings.HasPrefix(modelLower, "gemini") {
		return true
	}
	endpointLower := strings.ToLower(strings.TrimSpace(endpointURL))
	return strings.Contains(endpointLower, "generativelanguage.googleapis.com") ||
		strings.Contains(endpointLower, "/gemini")
}

func isAnthropicRequest(endpointURL, model string) bool {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "claude") {
		return true
	}
	u, err := url.Parse(strings.TrimSpace(endpointURL))
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Hostname()), "anthropic.com")
}

func shouldFallbackToGeminiDefaultBaseURL(endpoint string) bool {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return true
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Hostname(), "api.openai.com")
}

// parseGeminiBaseURLAndVersion splits ".../v1beta" style endpoints into the
// base URL and API version genai expects.
func parseGeminiBaseURLAndVersion(endpoint string) (string, string, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		trimmed = defaultGeminiBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", "", fmt.Errorf("invalid gemini endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", "", fmt.Errorf("invalid gemini endpoint scheme: %s", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", "", fmt.Errorf("invalid gemini endpoint host")
	}

	var segments []string
	if path := strings.Trim(parsed.Path, "/"); path != "" {
		segments = strings.Split(path, "/")
	}
	apiVersion := "v1beta"
	prefix := segments
	for idx, segment := range segments {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(segment)), "v1") {
			apiVersion = segment
			prefix = segments[:idx]
			break
		}
	}
	baseURL := fmt.Sprintf("%s://%s/", parsed.Scheme, parsed.Host)
	if basePath := strings.Trim(strings.Join(prefix, "/"), "/"); basePath != "" {
		baseURL += basePath + "/"
	}
	return baseURL, apiVersion, nil
}
