package enhance

import (
	"context"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"github.com/jingkaihe/enhancer/pkg/logger"
	"github.com/jingkaihe/enhancer/pkg/provider"
	"github.com/jingkaihe/enhancer/pkg/telemetry"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultBaseURL is used when the provider sets no ANTHROPIC_BASE_URL.
	DefaultBaseURL = "https://api.anthropic.com"
	// DefaultModel is used when no model override is configured.
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultMaxTokens bounds the length of the enhanced prompt.
	DefaultMaxTokens = 2048
)

// Credentials are what a single enhancement request is sent with.
type Credentials struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Invoker rewrites prompts through the Anthropic Messages API using the
// stored configuration and the provider registry.
type Invoker struct {
	configs    *ConfigStore
	registry   *provider.Registry
	httpClient *http.Client
	maxTokens  int64
}

// Option customises an Invoker.
type Option func(*Invoker)

// WithHTTPClient sets the HTTP client handed to the SDK.
func WithHTTPClient(client *http.Client) Option {
	return func(i *Invoker) {
		i.httpClient = client
	}
}

// WithMaxTokens overrides DefaultMaxTokens. Non-positive values are ignored.
func WithMaxTokens(maxTokens int) Option {
	return func(i *Invoker) {
		if maxTokens > 0 {
			i.maxTokens = int64(maxTokens)
		}
	}
}

// NewInvoker creates an Invoker.
func NewInvoker(configs *ConfigStore, registry *provider.Registry, opts ...Option) *Invoker {
	i := &Invoker{
		configs:   configs,
		registry:  registry,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ResolveCredentials picks the provider named by cfg, or the active one, and
// reads the key, endpoint and model from it. Missing values stay empty.
func (i *Invoker) ResolveCredentials(ctx context.Context, cfg Config) Credentials {
	var (
		p     provider.Provider
		found bool
	)
	if cfg.ProviderID != "" {
		p, found = i.registry.Find(ctx, cfg.ProviderID)
		if !found {
			logger.G(ctx).WithField("provider_id", cfg.ProviderID).Warn("configured provider not found")
		}
	} else {
		p, found = i.registry.Active(ctx)
	}

	creds := Credentials{Model: cfg.Model()}
	if found {
		env := p.Environment()
		creds.APIKey = env.APIKey()
		creds.BaseURL = env.BaseURL()
	}
	return creds
}

// Enhance returns the enhanced version of userInput. It makes at most one
// API request and never retries.
func (i *Invoker) Enhance(ctx context.Context, userInput string) (string, error) {
	if strings.TrimSpace(userInput) == "" {
		return "", ErrEmptyInput
	}

	cfg := i.configs.Load(ctx)
	if !cfg.Enabled {
		return "", ErrFeatureDisabled
	}

	creds := i.ResolveCredentials(ctx, cfg)
	if creds.APIKey == "" {
		return "", ErrMissingCredentials
	}
	if creds.BaseURL == "" {
		creds.BaseURL = DefaultBaseURL
	}
	if creds.Model == "" {
		creds.Model = DefaultModel
	}

	ctx = logger.WithFields(ctx, logrus.Fields{
		"request_id": uuid.New().String(),
		"model":      creds.Model,
		"base_url":   creds.BaseURL,
	})

	var enhanced string
	err := telemetry.WithSpan(ctx, "enhance.invoke", func(ctx context.Context) error {
		var err error
		enhanced, err = i.invoke(ctx, creds, BuildPrompt(cfg.Template, userInput))
		return err
	},
		attribute.String("enhance.model", creds.Model),
		attribute.Int("enhance.input_length", len(userInput)),
	)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("prompt enhancement failed")
		return "", err
	}

	logger.G(ctx).WithField("output_length", len(enhanced)).Debug("prompt enhanced")
	return enhanced, nil
}

func (i *Invoker) invoke(ctx context.Context, creds Credentials, prompt string) (string, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(creds.APIKey),
		option.WithBaseURL(creds.BaseURL),
		option.WithMaxRetries(0),
		option.WithMiddleware(htmlGuard()),
	}
	if i.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(i.httpClient))
	}
	client := anthropic.NewClient(opts...)

	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(creds.Model),
		MaxTokens: i.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", classify(err)
	}

	return extractText(msg)
}

// extractText takes the first text block, falling back to the top-level
// text or completion fields some compatible gateways return.
func extractText(msg *anthropic.Message) (string, error) {
	if msg == nil {
		return "", ErrInvalidResponseFormat
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return strings.TrimSpace(block.Text), nil
		}
	}

	raw := msg.RawJSON()
	for _, field := range []string{"text", "completion"} {
		if value := gjson.Get(raw, field); value.Type == gjson.String {
			return strings.TrimSpace(value.String()), nil
		}
	}
	return "", ErrInvalidResponseFormat
}
