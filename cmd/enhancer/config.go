package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jingkaihe/enhancer/pkg/enhance"
	"github.com/jingkaihe/enhancer/pkg/presenter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and edit the enhancement configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		format, _ := cmd.Flags().GetString("format")
		return renderConfig(cmd.OutOrStdout(), a.configs.Load(cmd.Context()), format)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one configuration field",
	Long: `Change one configuration field. Keys:
  enabled    true or false
  template   prompt template; ${userInput} is replaced by the raw prompt
  provider   provider id to pin, or "" for the active provider
  model      model override, or "" for the provider's model`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		cfg, err := applySetting(a.configs.Load(ctx), args[0], args[1])
		if err != nil {
			return err
		}
		a.configs.Save(ctx, cfg)

		if args[0] == "template" && !strings.Contains(cfg.Template, enhance.Placeholder) {
			presenter.Warning("template has no " + enhance.Placeholder + ", the prompt will not be included")
		}
		presenter.Success(fmt.Sprintf("%s updated", args[0]))
		return nil
	},
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the default configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes && !presenter.Confirm("Reset the enhancement configuration to defaults?") {
			presenter.Info("Aborted")
			return nil
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		a.configs.Reset(cmd.Context())
		presenter.Success("configuration reset")
		return nil
	},
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the stored configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := json.MarshalIndent(enhance.ConfigSchema(), "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal schema")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	configShowCmd.Flags().String("format", "yaml", "Output format (yaml or json)")
	configResetCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
	configCmd.AddCommand(configSchemaCmd)
}

func renderConfig(w io.Writer, cfg enhance.Config, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return errors.Wrap(err, "failed to encode config")
		}
		return enc.Close()
	default:
		return errors.Errorf("unknown format %q, use yaml or json", format)
	}
}

// applySetting returns cfg with one field changed.
func applySetting(cfg enhance.Config, key, value string) (enhance.Config, error) {
	switch key {
	case "enabled":
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return cfg, errors.Errorf("invalid value %q for enabled, use true or false", value)
		}
		cfg.Enabled = enabled
	case "template":
		cfg.Template = value
	case "provider", "providerId":
		cfg.ProviderID = strings.TrimSpace(value)
		cfg.SpecificModel = ""
	case "model", "specificModel":
		if value == enhance.CustomModelPlaceholder {
			return cfg, errors.Errorf("%q is not a model name", value)
		}
		cfg.SpecificModel = strings.TrimSpace(value)
	default:
		return cfg, errors.Errorf("unknown key %q, use enabled, template, provider or model", key)
	}
	return cfg, nil
}
