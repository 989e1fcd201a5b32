// Package enhance implements prompt enhancement: the persisted configuration
// and the invoker that rewrites a raw prompt through the Anthropic Messages API.
package enhance

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/enhancer/pkg/logger"
	"github.com/jingkaihe/enhancer/pkg/storage"
	"github.com/pkg/errors"
)

// Placeholder is replaced by the user's input when the prompt is built.
const Placeholder = "${userInput}"

// CustomModelPlaceholder is the marker older settings panels stored while the
// user was typing a custom model name. It never names a real model.
const CustomModelPlaceholder = "custom-placeholder"

// DefaultTemplate is used when no template has been saved.
const DefaultTemplate = `Generate an enhanced version of this prompt (reply with only the enhanced prompt - no conversation, explanations, lead-in, bullet points, placeholders, or surrounding quotes):

` + Placeholder

// Config is the persisted enhancement configuration.
type Config struct {
	Enabled       bool   `json:"enabled" yaml:"enabled" jsonschema:"description=Whether prompt enhancement is available"`
	Template      string `json:"template" yaml:"template" jsonschema:"description=Prompt template; ${userInput} is replaced by the raw prompt"`
	ProviderID    string `json:"providerId,omitempty" yaml:"providerId,omitempty" jsonschema:"description=Provider to use instead of the active one"`
	SpecificModel string `json:"specificModel,omitempty" yaml:"specificModel,omitempty" jsonschema:"description=Model override; empty uses the provider default"`
}

// DefaultConfig is what Load returns when nothing usable is stored.
func DefaultConfig() Config {
	return Config{Enabled: true, Template: DefaultTemplate}
}

// Model returns the configured model override, ignoring the custom-entry marker.
func (c Config) Model() string {
	if c.SpecificModel == CustomModelPlaceholder {
		return ""
	}
	return strings.TrimSpace(c.SpecificModel)
}

// record mirrors the stored JSON, where enabled may be absent.
type record struct {
	Enabled       *bool  `json:"enabled"`
	Template      string `json:"template"`
	ProviderID    string `json:"providerId"`
	SpecificModel string `json:"specificModel"`
}

// ConfigStore loads and saves Config in the key-value store. It never fails
// its callers: problems are logged and defaults are used instead.
type ConfigStore struct {
	store storage.Store
}

// NewConfigStore returns a ConfigStore backed by store.
func NewConfigStore(store storage.Store) *ConfigStore {
	return &ConfigStore{store: store}
}

// Load returns the stored configuration, or DefaultConfig when it is missing or corrupt.
func (s *ConfigStore) Load(ctx context.Context) Config {
	raw, ok, err := s.store.GetItem(ctx, storage.EnhanceConfigKey)
	if err != nil {
		logger.G(ctx).WithError(err).Error("failed to load enhance config")
		return DefaultConfig()
	}
	if !ok || raw == "" {
		return DefaultConfig()
	}

	cfg, err := ParseConfig([]byte(raw))
	if err != nil {
		logger.G(ctx).WithError(err).Error("failed to parse enhance config")
		return DefaultConfig()
	}
	return cfg
}

// Save overwrites the stored configuration.
func (s *ConfigStore) Save(ctx context.Context, cfg Config) {
	data, err := json.Marshal(cfg)
	if err != nil {
		logger.G(ctx).WithError(err).Error("failed to marshal enhance config")
		return
	}
	if err := s.store.SetItem(ctx, storage.EnhanceConfigKey, string(data)); err != nil {
		logger.G(ctx).WithError(err).Error("failed to save enhance config")
		return
	}
	logger.G(ctx).WithField("enabled", cfg.Enabled).Debug("saved enhance config")
}

// Reset removes the stored configuration so the next Load yields defaults.
func (s *ConfigStore) Reset(ctx context.Context) {
	if err := s.store.RemoveItem(ctx, storage.EnhanceConfigKey); err != nil {
		logger.G(ctx).WithError(err).Error("failed to reset enhance config")
	}
}

// BuildPrompt substitutes every placeholder in template with the trimmed input.
// The input is inserted verbatim.
func BuildPrompt(template, userInput string) string {
	return strings.ReplaceAll(template, Placeholder, strings.TrimSpace(userInput))
}

// ConfigSchema returns the JSON schema of the stored configuration record.
func ConfigSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(&Config{})
}

// ParseConfig decodes a full configuration record supplied by a client,
// applying the same defaults as Load.
func ParseConfig(data []byte) (Config, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Config{}, errors.Wrap(err, "invalid enhance config")
	}

	cfg := Config{
		Enabled:       true,
		Template:      rec.Template,
		ProviderID:    rec.ProviderID,
		SpecificModel: rec.SpecificModel,
	}
	if rec.Enabled != nil {
		cfg.Enabled = *rec.Enabled
	}
	if cfg.Template == "" {
		cfg.Template = DefaultTemplate
	}
	return cfg, nil
}
