package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/podwatch/podwatch/internal/app"
	"github.com/podwatch/podwatch/internal/collector"
	"github.com/podwatch/podwatch/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "podwatch",
	Short:         "Watch pod lifecycle events and export them as Prometheus metrics",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	cobra.OnInitialize(func() {
		viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		viper.SetEnvPrefix(config.EnvPrefix)
		viper.AutomaticEnv()
	})

	config.SetDefaults()

	flags := rootCmd.Flags()
	flags.String(config.KeyListenAddress, ":8080", "Address for the metrics HTTP server")
	flags.String(config.KeyNamespace, "", "Namespace to watch; empty watches all namespaces")
	flags.String(config.KeyKubeconfig, "", "Kubeconfig filepath to connect to k8s")
	flags.Int(config.KeyMaxRetries, 0, "Maximum consecutive watch failures before giving up; 0 retries forever")
	flags.Duration(config.KeyBackoffInitial, time.Second, "Initial reconnect backoff delay")
	flags.Duration(config.KeyBackoffMax, 30*time.Second, "Maximum reconnect backoff delay")
	flags.Duration(config.KeyBackoffReset, time.Minute, "Streaming duration after which the reconnect backoff resets")
	flags.String(config.KeyJournalPath, "", "Path to the DuckDB event journal; empty disables journaling")
	flags.String(config.KeyLogLevel, "info", "Log level (trace, debug, info, warn, error)")
	viper.BindPFlags(flags)
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logrus.SetLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stopCh
		logrus.Info("received shutdown signal, shutting down gracefully")
		cancel()
	}()

	clientset, err := collector.ConnectK8s(cfg.Kubeconfig)
	if err != nil {
		return fmt.Errorf("failed to connect to cluster: %w", err)
	}

	application, err := app.New(cfg, collector.NewPodUpstream(clientset, cfg.Namespace))
	if err != nil {
		return err
	}
	return application.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("podwatch terminated")
	}
}
