package main

import (
	"context"
	"os"
	"strings"

	"github.com/jingkaihe/enhancer/pkg/logger"
	"github.com/jingkaihe/enhancer/pkg/presenter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	viper.SetEnvPrefix("ENHANCER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.enhancer")
	viper.AddConfigPath(".")

	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "fmt")
	viper.SetDefault("enhance.max_tokens", 2048)
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8090)

	// a missing config file is fine
	_ = viper.ReadInConfig()
}

var rootCmd = &cobra.Command{
	Use:   "enhancer",
	Short: "Rewrite prompts into clearer, more complete ones before sending them",
	Long: `enhancer keeps the prompt-enhancement settings of an IDE assistant and rewrites
raw prompts through the Anthropic Messages API, using the provider the host
application marks as active.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := logger.Configure(viper.GetString("log_level"), viper.GetString("log_format")); err != nil {
			return err
		}
		return startTracing(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		return stopTracing(cmd.Context())
	},
}

func main() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (panic, fatal, error, warn, info, debug, trace)")
	rootCmd.PersistentFlags().String("log-format", "fmt", "Log format (fmt or json)")
	rootCmd.PersistentFlags().String("db-path", "", "Storage database path (default ~/.enhancer/storage.db)")
	rootCmd.PersistentFlags().String("bridge-dir", "", "Directory shared with the host application (default ~/.enhancer/bridge)")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("db_path", rootCmd.PersistentFlags().Lookup("db-path"))
	viper.BindPFlag("bridge.dir", rootCmd.PersistentFlags().Lookup("bridge-dir"))

	rootCmd.AddCommand(withTracing(enhanceCmd))
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(withTracing(settingsCmd))
	rootCmd.AddCommand(withTracing(serveCmd))
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		presenter.Error(err, "")
		os.Exit(1)
	}
}
