// Package provider models the provider list pushed by the host application
// and owns the in-process registry the settings panel and the invoker share.
package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/jingkaihe/enhancer/pkg/logger"
	"github.com/pkg/errors"
)

// Provider is a host-owned provider definition. enhancer never edits one.
type Provider struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	IsActive       bool            `json:"isActive"`
	SettingsConfig *SettingsConfig `json:"settingsConfig,omitempty"`
}

// SettingsConfig is the provider's settings block. Only env is interpreted;
// every other member is carried through untouched so mirroring is lossless.
type SettingsConfig struct {
	Env  *Env
	Rest map[string]json.RawMessage
}

// UnmarshalJSON splits env from the remaining settings members.
func (s *SettingsConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "settingsConfig must be an object")
	}

	s.Env = nil
	if envData, ok := raw["env"]; ok && string(envData) != "null" {
		env := &Env{}
		if err := json.Unmarshal(envData, env); err != nil {
			return err
		}
		s.Env = env
	}
	delete(raw, "env")

	s.Rest = nil
	if len(raw) > 0 {
		s.Rest = raw
	}
	return nil
}

// MarshalJSON merges env back with the untouched members.
func (s SettingsConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Rest)+1)
	for k, v := range s.Rest {
		out[k] = v
	}
	if s.Env != nil {
		out["env"] = s.Env
	}
	return json.Marshal(out)
}

// Environment returns the provider's env block, or nil when it has none.
func (p Provider) Environment() *Env {
	if p.SettingsConfig == nil {
		return nil
	}
	return p.SettingsConfig.Env
}

// DisplayName is the provider's name, falling back to its id.
func (p Provider) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// Validate checks the invariants enhancer relies on: every provider has an id
// and ids are unique. All violations are reported together.
func Validate(providers []Provider) error {
	_, err := Sanitize(providers)
	return err
}

// Sanitize returns the providers that satisfy Validate: entries without an id
// and repeated ids after the first are left out. The error describes what was
// left out and is nil when the list was already valid.
func Sanitize(providers []Provider) ([]Provider, error) {
	var result *multierror.Error
	kept := make([]Provider, 0, len(providers))
	seen := make(map[string]int, len(providers))

	for i, p := range providers {
		if p.ID == "" {
			result = multierror.Append(result, errors.Errorf("provider at index %d has no id", i))
			continue
		}
		if first, ok := seen[p.ID]; ok {
			result = multierror.Append(result, errors.Errorf("provider id %q at index %d duplicates index %d", p.ID, i, first))
			continue
		}
		seen[p.ID] = i
		kept = append(kept, p)
	}

	if result != nil {
		result.ErrorFormat = listErrorFormat
	}
	return kept, result.ErrorOrNil()
}

func listErrorFormat(errs []error) string {
	if len(errs) == 1 {
		return fmt.Sprintf("invalid provider list: %s", errs[0])
	}
	msg := fmt.Sprintf("invalid provider list: %d problems:", len(errs))
	for _, err := range errs {
		msg += "\n\t* " + err.Error()
	}
	return msg
}

// Decode parses a JSON provider list without validating it.
func Decode(data []byte) ([]Provider, error) {
	var providers []Provider
	if err := json.Unmarshal(data, &providers); err != nil {
		return nil, errors.Wrap(err, "failed to parse provider list")
	}
	return providers, nil
}

// Parse decodes and validates a JSON provider list as delivered by the host.
// It is used where a list is accepted for writing.
func Parse(data []byte) ([]Provider, error) {
	providers, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(providers); err != nil {
		return nil, err
	}
	return providers, nil
}

// ParseLenient decodes a list read back from storage or the bridge. Invalid
// entries are dropped with a warning so one bad entry does not hide the rest.
func ParseLenient(ctx context.Context, data []byte) ([]Provider, error) {
	providers, err := Decode(data)
	if err != nil {
		return nil, err
	}
	kept, dropped := Sanitize(providers)
	if dropped != nil {
		logger.G(ctx).WithError(dropped).WithField("kept", len(kept)).Warn("dropped invalid providers")
	}
	return kept, nil
}

// ActiveCount reports how many providers claim to be active. More than one is
// tolerated but worth a warning.
func ActiveCount(providers []Provider) int {
	n := 0
	for _, p := range providers {
		if p.IsActive {
			n++
		}
	}
	return n
}

// FindByID returns the provider with the given id.
func FindByID(providers []Provider, id string) (Provider, bool) {
	for _, p := range providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}

// FindActive returns the first provider marked active.
func FindActive(providers []Provider) (Provider, bool) {
	for _, p := range providers {
		if p.IsActive {
			return p, true
		}
	}
	return Provider{}, false
}
