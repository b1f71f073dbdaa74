package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/pueued/internal/config"
	"github.com/hrygo/pueued/internal/daemon"
	"github.com/hrygo/pueued/internal/supervisor"
	"github.com/hrygo/pueued/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "pueued",
	Short: "A task management command-line tool for sequential or parallel execution of long-running tasks.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		settings := config.Default()
		settings.FromViper(viper.GetViper())
		if err := settings.Validate(); err != nil {
			slog.Error("invalid configuration", "error", err)
			os.Exit(1)
		}

		d, err := daemon.New(settings, slog.Default())
		if err != nil {
			slog.Error("failed to initialize daemon", "error", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())

		c := make(chan os.Signal, 1)
		signal.Notify(c, terminationSignals...)
		go func() {
			<-c
			slog.Info("received shutdown signal")
			cancel()
		}()

		printGreetings(settings)

		runErr := d.Run(ctx)
		cancel()
		if runErr != nil {
			if code, ok := supervisor.ExitCode(runErr); ok {
				slog.Error("daemon exiting after emergency shutdown", "exit_code", code)
				os.Exit(code)
			}
			slog.Error("daemon exited with error", "error", runErr)
			os.Exit(1)
		}
	},
}

func init() {
	viper.SetDefault("port", 6924)

	rootCmd.PersistentFlags().String("data", "", "data directory (state, logs, TLS material)")
	rootCmd.PersistentFlags().String("unix-socket", "", "path to the unix socket; overrides --host/--port")
	rootCmd.PersistentFlags().String("host", "", "TCP host to bind when not using a unix socket")
	rootCmd.PersistentFlags().Int("port", 6924, "TCP port to bind when not using a unix socket")
	rootCmd.PersistentFlags().String("tls-cert", "", "TLS certificate path (required with --host)")
	rootCmd.PersistentFlags().String("tls-key", "", "TLS private key path (required with --host)")
	rootCmd.PersistentFlags().String("shared-secret", "", "path to the RPC shared-secret file")
	rootCmd.PersistentFlags().String("log-dir", "", "directory holding per-task stdout/stderr logs")
	rootCmd.PersistentFlags().Bool("state-gzip", false, "gzip-compress the persisted state snapshot")
	rootCmd.PersistentFlags().Bool("pause-group-on-failure", false, "pause a group when one of its tasks fails")
	rootCmd.PersistentFlags().Bool("pause-all-on-failure", false, "pause every group when any task fails")
	rootCmd.PersistentFlags().String("callback", "", "shell command template run after every task finishes")
	rootCmd.PersistentFlags().String("metrics-addr", "", "expose Prometheus metrics on this loopback address")

	for _, name := range []string{
		"data", "unix-socket", "host", "port", "tls-cert", "tls-key",
		"shared-secret", "log-dir", "state-gzip", "pause-group-on-failure",
		"pause-all-on-failure", "callback", "metrics-addr",
	} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("pueue")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(settings *config.Settings) {
	fmt.Printf("pueued %s started successfully!\n", version.String())
	fmt.Printf("Data directory: %s\n", settings.Data)
	fmt.Printf("Log directory: %s\n", settings.LogDir)

	if settings.UnixSocketPath != "" {
		fmt.Printf("Listening on unix socket: %s\n", settings.UnixSocketPath)
	} else {
		fmt.Printf("Listening on %s:%d (TLS)\n", settings.Host, settings.Port)
	}
	if settings.MetricsAddr != "" {
		fmt.Printf("Metrics: http://%s/metrics\n", settings.MetricsAddr)
	}
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
