package tui

import (
	"github.com/jingkaihe/enhancer/pkg/settings"
)

// option is one choice of a select-style field.
type option struct {
	Value string
	Label string
}

const (
	currentProviderLabel = "Use current provider"
	providerModelLabel   = "Use provider's model"
	customModelLabel     = "Custom model..."
	defaultModelLabel    = "Default model"
)

// providerOptions lists the provider choices, led by the active-provider default.
func providerOptions(state settings.State) []option {
	opts := []option{{Value: "", Label: currentProviderLabel}}
	for _, p := range state.Providers {
		opts = append(opts, option{Value: p.ID, Label: p.DisplayName()})
	}
	return opts
}

// modelOptions lists the model choices. The provider-default entry is only
// offered when no provider is pinned; custom entry is always last.
func modelOptions(state settings.State, sel settings.ModelSelection) []option {
	var opts []option
	if sel.AllowDefault {
		opts = append(opts, option{Value: "", Label: providerModelLabel})
	}
	for _, model := range state.AvailableModels {
		opts = append(opts, option{Value: model, Label: model})
	}
	return append(opts, option{Value: settings.CustomOption, Label: customModelLabel})
}

// cycle returns the value delta steps away from current, wrapping around.
// An unknown current value starts from the first option.
func cycle(opts []option, current string, delta int) string {
	if len(opts) == 0 {
		return current
	}
	idx := -1
	for i, o := range opts {
		if o.Value == current {
			idx = i
			break
		}
	}
	if idx < 0 {
		return opts[0].Value
	}
	next := ((idx+delta)%len(opts) + len(opts)) % len(opts)
	return opts[next].Value
}

// labelFor returns the label of value, or value itself when it is not listed.
func labelFor(opts []option, value string) string {
	for _, o := range opts {
		if o.Value == value {
			return o.Label
		}
	}
	return value
}

// modelLabel is labelFor for the model field. An unset model that is not on
// offer, as with a pinned provider, shows as the default model.
func modelLabel(opts []option, value string) string {
	if label := labelFor(opts, value); label != "" {
		return label
	}
	return defaultModelLabel
}
