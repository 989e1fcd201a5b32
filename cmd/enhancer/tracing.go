package main

import (
	"context"

	"github.com/jingkaihe/enhancer/pkg/telemetry"
	"github.com/jingkaihe/enhancer/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var shutdownTracing telemetry.ShutdownFunc

func tracingConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:        viper.GetBool("tracing.enabled"),
		ServiceName:    telemetry.ServiceName,
		ServiceVersion: version.Get().Version,
		SamplerType:    viper.GetString("tracing.sampler"),
		SamplerRatio:   viper.GetFloat64("tracing.ratio"),
	}
}

func startTracing(cmd *cobra.Command) error {
	shutdown, err := telemetry.InitTracer(cmd.Context(), tracingConfig())
	if err != nil {
		return err
	}
	shutdownTracing = shutdown
	return nil
}

func stopTracing(ctx context.Context) error {
	if shutdownTracing == nil {
		return nil
	}
	shutdown := shutdownTracing
	shutdownTracing = nil
	return shutdown(context.WithoutCancel(ctx))
}

// sensitiveFlags are never recorded as span attributes.
var sensitiveFlags = map[string]bool{
	"password": true,
	"token":    true,
	"key":      true,
	"api-key":  true,
}

func commandAttributes(cmd *cobra.Command, args []string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("command.name", cmd.Name()),
		attribute.String("command.path", cmd.CommandPath()),
		attribute.Int("args.count", len(args)),
	}
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		if !sensitiveFlags[flag.Name] {
			attrs = append(attrs, attribute.String("flag."+flag.Name, flag.Value.String()))
		}
	})
	return attrs
}

// withTracing wraps the command's RunE in a cli.command span.
func withTracing(cmd *cobra.Command) *cobra.Command {
	originalRunE := cmd.RunE

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, span := telemetry.Tracer().Start(
			cmd.Context(),
			"cli.command",
			trace.WithAttributes(commandAttributes(cmd, args)...),
		)
		defer span.End()

		cmd.SetContext(ctx)

		if err := originalRunE(cmd, args); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}

	return cmd
}

func init() {
	rootCmd.PersistentFlags().Bool("tracing-enabled", false, "Enable OpenTelemetry tracing")
	rootCmd.PersistentFlags().String("tracing-sampler", "ratio", "Tracing sampler type (always, never, ratio)")
	rootCmd.PersistentFlags().Float64("tracing-ratio", 1, "Sampling ratio when using ratio sampler")

	viper.BindPFlag("tracing.enabled", rootCmd.PersistentFlags().Lookup("tracing-enabled"))
	viper.BindPFlag("tracing.sampler", rootCmd.PersistentFlags().Lookup("tracing-sampler"))
	viper.BindPFlag("tracing.ratio", rootCmd.PersistentFlags().Lookup("tracing-ratio"))
}
