package provider

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Env is the typed view of a provider's environment map. Credential and model
// keys are enumerated; anything else lands in Extra unchanged.
type Env struct {
	AnthropicAuthToken string `mapstructure:"ANTHROPIC_AUTH_TOKEN"`
	AnthropicAPIKey    string `mapstructure:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL   string `mapstructure:"ANTHROPIC_BASE_URL"`

	AnthropicModel              string `mapstructure:"ANTHROPIC_MODEL"`
	AnthropicDefaultHaikuModel  string `mapstructure:"ANTHROPIC_DEFAULT_HAIKU_MODEL"`
	AnthropicDefaultSonnetModel string `mapstructure:"ANTHROPIC_DEFAULT_SONNET_MODEL"`
	AnthropicDefaultOpusModel   string `mapstructure:"ANTHROPIC_DEFAULT_OPUS_MODEL"`
	OpenAIModel                 string `mapstructure:"OPENAI_MODEL"`
	GeminiModel                 string `mapstructure:"GEMINI_MODEL"`

	Extra map[string]any `mapstructure:",remain"`
}

// DecodeEnv converts a raw env map into Env. Scalar values are coerced to
// strings, so a host sending numbers or booleans does not break decoding.
func DecodeEnv(raw map[string]any) (Env, error) {
	var env Env
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &env,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return env, errors.Wrap(err, "failed to create env decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return env, errors.Wrap(err, "failed to decode provider env")
	}
	if len(env.Extra) == 0 {
		env.Extra = nil
	}
	return env, nil
}

// UnmarshalJSON decodes the raw env object through DecodeEnv.
func (e *Env) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "env must be an object")
	}
	decoded, err := DecodeEnv(raw)
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

// MarshalJSON writes the env back as a flat object, omitting empty known keys.
func (e Env) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Map())
}

// Map flattens the env back into its wire form.
func (e Env) Map() map[string]any {
	out := make(map[string]any, len(e.Extra)+9)
	for k, v := range e.Extra {
		out[k] = v
	}
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set("ANTHROPIC_AUTH_TOKEN", e.AnthropicAuthToken)
	set("ANTHROPIC_API_KEY", e.AnthropicAPIKey)
	set("ANTHROPIC_BASE_URL", e.AnthropicBaseURL)
	set("ANTHROPIC_MODEL", e.AnthropicModel)
	set("ANTHROPIC_DEFAULT_HAIKU_MODEL", e.AnthropicDefaultHaikuModel)
	set("ANTHROPIC_DEFAULT_SONNET_MODEL", e.AnthropicDefaultSonnetModel)
	set("ANTHROPIC_DEFAULT_OPUS_MODEL", e.AnthropicDefaultOpusModel)
	set("OPENAI_MODEL", e.OpenAIModel)
	set("GEMINI_MODEL", e.GeminiModel)
	return out
}

// APIKey prefers the auth token over the plain API key.
func (e *Env) APIKey() string {
	if e == nil {
		return ""
	}
	if e.AnthropicAuthToken != "" {
		return e.AnthropicAuthToken
	}
	return e.AnthropicAPIKey
}

// BaseURL is the provider's endpoint override, possibly empty.
func (e *Env) BaseURL() string {
	if e == nil {
		return ""
	}
	return e.AnthropicBaseURL
}

// modelCandidates lists the model keys in extraction order.
func (e *Env) modelCandidates() []string {
	return []string{
		e.AnthropicModel,
		e.AnthropicDefaultHaikuModel,
		e.AnthropicDefaultSonnetModel,
		e.AnthropicDefaultOpusModel,
		e.OpenAIModel,
		e.GeminiModel,
	}
}

// ExtractModels lists the model identifiers a provider advertises, de-duplicated
// in first-seen order. A provider without an env block yields an empty list.
func ExtractModels(p Provider) []string {
	env := p.Environment()
	if env == nil {
		return []string{}
	}

	models := []string{}
	seen := map[string]bool{}
	for _, m := range env.modelCandidates() {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		models = append(models, m)
	}
	return models
}
