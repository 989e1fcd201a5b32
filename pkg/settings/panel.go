// Package settings holds the headless controller behind the enhancement
// settings form. Front ends (the terminal form, the HTTP API) drive a Panel
// and render its State; the Panel owns persistence and provider updates.
package settings

import (
	"context"
	"slices"
	"sync"

	"github.com/jingkaihe/enhancer/pkg/bridge"
	"github.com/jingkaihe/enhancer/pkg/enhance"
	"github.com/jingkaihe/enhancer/pkg/logger"
	"github.com/jingkaihe/enhancer/pkg/provider"
	"github.com/sirupsen/logrus"
)

// CustomOption is the model choice that switches the model field to free text.
const CustomOption = "custom"

// State is a snapshot of the panel.
type State struct {
	Enabled       bool
	Template      string
	ProviderID    string
	SpecificModel string
	// CustomMode is set while the model is typed rather than picked. The
	// typed text may still be empty, in which case the default model applies.
	CustomMode      bool
	Providers       []provider.Provider
	AvailableModels []string
}

// ModelSelection is how the model field should be shown.
type ModelSelection struct {
	// Value is the selected option: "", a model from AvailableModels, or CustomOption.
	Value string
	// CustomText is the content of the free-text input.
	CustomText string
	// ShowCustomInput reports whether the free-text input is visible.
	ShowCustomInput bool
	// AllowDefault reports whether the "use the provider's model" option is
	// offered, which is only the case when no provider is pinned.
	AllowDefault bool
}

// Panel is the settings controller. It is safe for concurrent use: provider
// pushes arrive on the bridge goroutine while edits come from the front end.
type Panel struct {
	configs  *enhance.ConfigStore
	registry *provider.Registry
	bridge   bridge.Bridge

	mu          sync.Mutex
	state       State
	unsubscribe func()
	observers   []func(State)
	ctx         context.Context
}

// NewPanel creates an unmounted panel.
func NewPanel(configs *enhance.ConfigStore, registry *provider.Registry, b bridge.Bridge) *Panel {
	return &Panel{
		configs:  configs,
		registry: registry,
		bridge:   b,
		state: State{
			Enabled:  true,
			Template: enhance.DefaultTemplate,
		},
		ctx: context.Background(),
	}
}

// OnChange registers fn to receive the state after every change.
func (p *Panel) OnChange(fn func(State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

// Mount loads the stored configuration, subscribes to provider pushes, shows
// the mirrored provider list and asks the host for a fresh one.
func (p *Panel) Mount(ctx context.Context) {
	cfg := p.configs.Load(ctx)
	persisted := p.registry.Persisted(ctx)

	p.mu.Lock()
	p.ctx = ctx
	p.state.Enabled = cfg.Enabled
	p.state.Template = cfg.Template
	p.state.ProviderID = cfg.ProviderID
	p.state.SpecificModel = cfg.SpecificModel
	p.state.CustomMode = false
	if cfg.SpecificModel == enhance.CustomModelPlaceholder {
		p.state.SpecificModel = ""
		p.state.CustomMode = true
	}
	if len(persisted) > 0 {
		// the stored list is for display only; the registry cache is fed by the host
		p.state.Providers = persisted
		p.refreshModelsLocked()
	}
	if p.unsubscribe == nil {
		p.unsubscribe = p.bridge.Subscribe(p.receiveProviders)
	}
	p.mu.Unlock()

	p.notify()

	if err := p.bridge.RequestProviders(ctx); err != nil {
		logger.G(ctx).WithError(err).Warn("failed to request providers from host")
	}
}

// Unmount removes the panel's bridge subscription. It is safe to call twice.
func (p *Panel) Unmount() {
	p.mu.Lock()
	unsubscribe := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (p *Panel) receiveProviders(providers []provider.Provider) {
	p.registry.SetCache(providers)

	p.mu.Lock()
	p.state.Providers = slices.Clone(providers)
	p.refreshModelsLocked()
	ctx := p.ctx
	p.mu.Unlock()

	if provider.ActiveCount(providers) > 1 {
		logger.G(ctx).WithField("count", len(providers)).Warn("host pushed more than one active provider")
	}
	logger.G(ctx).WithField("count", len(providers)).Debug("received providers from host")
	p.notify()
}

// SetEnabled toggles the feature and persists it.
func (p *Panel) SetEnabled(ctx context.Context, enabled bool) {
	p.update(ctx, func(s *State) {
		s.Enabled = enabled
	}, func(cfg *enhance.Config) {
		cfg.Enabled = enabled
	})
}

// SetTemplate replaces the template and persists it. The template is stored
// as typed; a missing placeholder is not an error.
func (p *Panel) SetTemplate(ctx context.Context, template string) {
	p.update(ctx, func(s *State) {
		s.Template = template
	}, func(cfg *enhance.Config) {
		cfg.Template = template
	})
}

// SelectProvider pins a provider, or clears the pin when id is empty. The
// model choice is reset and the model list re-derived.
func (p *Panel) SelectProvider(ctx context.Context, id string) {
	p.update(ctx, func(s *State) {
		s.ProviderID = id
		s.SpecificModel = ""
		s.CustomMode = false
		s.AvailableModels = []string{}
		p.refreshModelsLocked()
	}, nil)
}

// SelectModel picks a model from the list. "" falls back to the provider's
// model and CustomOption switches to free-text entry with empty text.
func (p *Panel) SelectModel(ctx context.Context, model string) {
	p.update(ctx, func(s *State) {
		if model == CustomOption {
			s.CustomMode = true
			s.SpecificModel = ""
			return
		}
		s.CustomMode = false
		s.SpecificModel = model
	}, nil)
}

// SetCustomModel stores free-text model input, entering custom mode if needed.
func (p *Panel) SetCustomModel(ctx context.Context, model string) {
	p.update(ctx, func(s *State) {
		s.CustomMode = true
		s.SpecificModel = model
	}, nil)
}

// State returns a snapshot of the panel.
func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// ModelSelection derives how the model field is shown from the current state.
func (p *Panel) ModelSelection() ModelSelection {
	return DeriveModelSelection(p.State())
}

// DeriveModelSelection is the pure form of Panel.ModelSelection.
func DeriveModelSelection(s State) ModelSelection {
	sel := ModelSelection{AllowDefault: s.ProviderID == ""}
	switch {
	case !s.CustomMode && slices.Contains(s.AvailableModels, s.SpecificModel):
		sel.Value = s.SpecificModel
	case s.CustomMode || s.SpecificModel != "":
		sel.Value = CustomOption
		sel.CustomText = s.SpecificModel
		sel.ShowCustomInput = true
	}
	return sel
}

// update applies mutate to the state and persists the merged config: the
// stored record, overlaid with apply and the panel's provider and model.
func (p *Panel) update(ctx context.Context, mutate func(*State), apply func(*enhance.Config)) {
	p.mu.Lock()
	mutate(&p.state)
	providerID := p.state.ProviderID
	model := p.state.SpecificModel
	p.mu.Unlock()

	cfg := p.configs.Load(ctx)
	if apply != nil {
		apply(&cfg)
	}
	cfg.ProviderID = providerID
	cfg.SpecificModel = model
	p.configs.Save(ctx, cfg)

	logger.G(ctx).WithFields(logrus.Fields{
		"provider_id": providerID,
		"model":       model,
	}).Debug("settings updated")
	p.notify()
}

// refreshModelsLocked derives the model list from the pinned provider, or the
// active one when nothing is pinned or the pin is unknown. The list is left
// alone when neither exists.
func (p *Panel) refreshModelsLocked() {
	providers := p.state.Providers
	if len(providers) == 0 {
		return
	}

	if p.state.ProviderID != "" {
		if selected, ok := provider.FindByID(providers, p.state.ProviderID); ok {
			p.state.AvailableModels = provider.ExtractModels(selected)
			return
		}
	}
	if active, ok := provider.FindActive(providers); ok {
		p.state.AvailableModels = provider.ExtractModels(active)
	}
}

func (p *Panel) snapshotLocked() State {
	s := p.state
	s.Providers = slices.Clone(s.Providers)
	s.AvailableModels = slices.Clone(s.AvailableModels)
	return s
}

func (p *Panel) notify() {
	p.mu.Lock()
	state := p.snapshotLocked()
	observers := slices.Clone(p.observers)
	p.mu.Unlock()

	for _, fn := range observers {
		fn(state)
	}
}
