package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jingkaihe/enhancer/pkg/settings"
	"github.com/pkg/errors"
)

// RunSettings mounts panel, runs the settings form until the user quits and
// unmounts the panel again.
func RunSettings(ctx context.Context, panel *settings.Panel, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	panel.Mount(ctx)
	defer panel.Unmount()

	model := NewSettingsModel(ctx, panel)
	panel.OnChange(model.Notify)

	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	opts = append(opts, tea.WithContext(ctx))

	if _, err := tea.NewProgram(model, opts...).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Wrap(err, "error running settings form")
	}
	return nil
}
