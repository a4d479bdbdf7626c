package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/tiered/offload"
	"github.com/vx-labs/tiered/stats"
	"go.uber.org/zap"
)

func main() {
	config := viper.New()
	config.SetEnvPrefix("TIER")
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	config.AutomaticEnv()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defaults := offload.DefaultPolicies()

	rootCmd := &cobra.Command{
		Use:          "tier",
		Short:        "Move sealed ledgers between the local tier and an offload bucket.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			config.BindPFlags(cmd.Flags())
			config.BindPFlags(cmd.PersistentFlags())
			if path := config.GetString("config"); path != "" {
				config.SetConfigFile(path)
				if err := config.ReadInConfig(); err != nil {
					return err
				}
			}
			ctx := offload.StoreLogger(cmd.Context(), getLogger(config))
			cmd.SetContext(ctx)
			if port := config.GetInt("metrics-port"); port > 0 {
				go func() {
					err := stats.ListenAndServe(port, nil)
					offload.L(ctx).Warn("metrics server stopped", zap.Error(err))
				}()
				offload.L(ctx).Debug("started metrics server", zap.Int("metrics_port", port))
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file.")
	rootCmd.PersistentFlags().String("data-dir", "/tmp/tier", "Directory holding local ledgers and the offload catalog.")
	rootCmd.PersistentFlags().StringP("managed-ledger-name", "n", "public/default/persistent/default", "Managed ledger owning the ledgers.")
	rootCmd.PersistentFlags().String("driver", defaults.Driver, "Offload driver (filesystem or none).")
	rootCmd.PersistentFlags().String("fs-uri", "", "Offload bucket URL (file://, mem://, s3://, gs://). Defaults to a directory in data-dir.")
	rootCmd.PersistentFlags().String("fs-profile-path", "", "Comma separated list of YAML filesystem profiles.")
	rootCmd.PersistentFlags().Int("max-threads", defaults.MaxThreads, "Number of offload writer lanes.")
	rootCmd.PersistentFlags().Int("prefetch-rounds", defaults.PrefetchRounds, "Number of entry batches read ahead of the writer.")
	rootCmd.PersistentFlags().Int("scheduler-threads", defaults.SchedulerThreads, "Number of offload scheduler lanes.")
	rootCmd.PersistentFlags().String("codec", defaults.Codec, "Offloaded entry compression (none, s2 or zstd).")
	rootCmd.PersistentFlags().Int("metrics-port", 0, "Start a prometheus exporter on this port.")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Increase log verbosity.")

	rootCmd.AddCommand(Ledgers(config))
	rootCmd.AddCommand(Offload(config))
	rootCmd.AddCommand(Read(config))
	rootCmd.AddCommand(Delete(config))
	rootCmd.AddCommand(Offloads(config))
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
