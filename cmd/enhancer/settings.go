package main

import (
	"github.com/jingkaihe/enhancer/pkg/settings"
	"github.com/jingkaihe/enhancer/pkg/tui"
	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Edit the enhancement settings interactively",
	Long: `Open the settings form. Provider lists pushed by the host application through
the bridge directory refresh the form while it is open; on start the host is
asked to re-send its list.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		b, err := a.openBridge(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		return tui.RunSettings(ctx, settings.NewPanel(a.configs, a.registry, b))
	},
}
