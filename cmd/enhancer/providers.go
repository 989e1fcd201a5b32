package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jingkaihe/enhancer/pkg/presenter"
	"github.com/jingkaihe/enhancer/pkg/provider"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect the provider list shared by the host application",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known providers",
	Long: `List the providers the host application last pushed. When no push is available
in this process, the list mirrored to storage is shown.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		dir, err := bridgeDir()
		if err != nil {
			return err
		}
		if err := loadBridgeCache(ctx, a.registry, dir); err != nil {
			presenter.Warning(err.Error())
		}

		providers := a.registry.List(ctx)
		if len(providers) == 0 {
			presenter.Info("No providers configured")
			return nil
		}
		if n := provider.ActiveCount(providers); n > 1 {
			presenter.Warning(fmt.Sprintf("%d providers are marked active, the first one is used", n))
		}
		presenter.Table([]string{"ID", "NAME", "ACTIVE", "MODELS"}, providerRows(providers))
		return nil
	},
}

var providersImportCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Mirror a provider list into storage",
	Long: `Read a provider list (a JSON array in the host's format) from a file, or from
stdin when the argument is "-", validate it and mirror it into storage. With
--bridge the list is also pushed through the bridge directory, as the host
would.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := readSource(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}
		providers, err := provider.Parse(data)
		if err != nil {
			return err
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.registry.Mirror(ctx, providers); err != nil {
			return errors.Wrap(err, "failed to mirror providers")
		}

		if push, _ := cmd.Flags().GetBool("bridge"); push {
			dir, err := bridgeDir()
			if err != nil {
				return err
			}
			if err := pushToBridge(dir, providers); err != nil {
				return err
			}
		}

		presenter.Success(fmt.Sprintf("Imported %d providers (%d active)", len(providers), provider.ActiveCount(providers)))
		return nil
	},
}

var providersModelsCmd = &cobra.Command{
	Use:   "models <id>",
	Short: "List the models a provider's environment names",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		dir, err := bridgeDir()
		if err != nil {
			return err
		}
		if err := loadBridgeCache(ctx, a.registry, dir); err != nil {
			presenter.Warning(err.Error())
		}

		p, ok := a.registry.Find(ctx, args[0])
		if !ok {
			return errors.Errorf("provider %q not found", args[0])
		}
		for _, m := range provider.ExtractModels(p) {
			fmt.Fprintln(cmd.OutOrStdout(), m)
		}
		return nil
	},
}

func init() {
	providersImportCmd.Flags().Bool("bridge", false, "Also push the list through the bridge directory")

	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersImportCmd)
	providersCmd.AddCommand(providersModelsCmd)
}

func providerRows(providers []provider.Provider) [][]string {
	rows := make([][]string, 0, len(providers))
	for _, p := range providers {
		active := ""
		if p.IsActive {
			active = "yes"
		}
		summary := "-"
		if models := provider.ExtractModels(p); len(models) > 0 {
			summary = strings.Join(models, ", ")
		}
		rows = append(rows, []string{p.ID, p.DisplayName(), active, summary})
	}
	return rows
}

func readSource(name string, stdin io.Reader) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(stdin)
		return data, errors.Wrap(err, "failed to read stdin")
	}
	data, err := os.ReadFile(name)
	return data, errors.Wrapf(err, "failed to read %s", name)
}
