package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/jingkaihe/enhancer/pkg/server"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the settings and enhancement HTTP API",
	Long: `Start a local HTTP server exposing the enhancement configuration, the provider
list and the enhance operation under /api. Provider lists can be pushed over
HTTP or through the bridge directory.

The server listens on http://localhost:8090 by default.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		config, err := serverConfig()
		if err != nil {
			return err
		}

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

		srv, err := server.NewServer(config, a.configs, a.registry, a.invoker(), server.WithPublisher(b))
		if err != nil {
			return err
		}
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().String("host", "localhost", "Host to bind the server to")
	serveCmd.Flags().Int("port", 8090, "Port to bind the server to")

	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

// serverConfig reads the keys one by one; UnmarshalKey would miss values
// that only come from flags or the environment.
func serverConfig() (*server.Config, error) {
	config := &server.Config{
		Host: viper.GetString("server.host"),
		Port: viper.GetInt("server.port"),
	}
	return config, errors.Wrap(config.Validate(), "invalid server configuration")
}
