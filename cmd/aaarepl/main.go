// aaarepl replicates AAA users, domains, roles and grants between cluster nodes.
package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tunnelmesh/aaarepl/internal/logging/loki"
	"github.com/tunnelmesh/aaarepl/internal/svc"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile    string
	logLevel   string
	serviceRun bool

	// logOutput is the human-readable log destination chosen at startup.
	logOutput io.Writer = os.Stderr
)

func main() {
	// Check if running as a service (invoked by service manager)
	if svc.IsServiceMode(os.Args) {
		runAsService()
		return
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aaarepl",
		Short: "aaarepl - AAA object replication between cluster nodes",
		Long: `aaarepl keeps AAA entities (users, domains, roles, grants) in sync
across a cluster. Every node listens on the replication port, connects to
its peers and forwards each local change to all of them.

QUICK START:

  # Start a node with a config file:
  aaarepl serve --config /etc/aaarepl/node.yaml

  # Send a single change to a running node:
  aaarepl publish 10.0.0.2:7780 domain write --id 7 --name sdn

  # Install as system service:
  sudo aaarepl service install --config /etc/aaarepl/node.yaml

For more help on any command, use: aaarepl <command> --help`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	// Hidden service mode flag (used when running as a service)
	rootCmd.PersistentFlags().BoolVar(&serviceRun, "service-run", false, "Run as a service (internal use)")
	_ = rootCmd.PersistentFlags().MarkHidden("service-run")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newPublishCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newDialCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newServiceCmd())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "aaarepl %s\n", Version)
			_, _ = fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			_, _ = fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			_, _ = fmt.Fprintf(out, "  Go:         %s\n", runtime.Version())
		},
	}
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

func runAsService() {
	setupServiceLogging()

	configPath := ""
	for i, arg := range os.Args {
		if (arg == "--config" || arg == "-c") && i+1 < len(os.Args) {
			configPath = os.Args[i+1]
		}
	}
	if configPath == "" {
		configPath = svc.DefaultConfigPath()
	}

	log.Info().
		Str("version", Version).
		Str("config", configPath).
		Msg("starting as service")

	prg := &svc.Program{
		ConfigPath: configPath,
		Run:        runServeFromService,
	}

	if err := svc.Run(prg, svc.Config{ConfigPath: configPath}); err != nil {
		log.Fatal().Err(err).Msg("service error")
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logOutput = zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = log.Output(logOutput)
}

// setupServiceLogging writes to a log file as well as stderr because
// launchd does not always redirect stderr. Default level is Info; the
// config may override it after loading.
func setupServiceLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logFile, err := os.OpenFile("/var/log/aaarepl-service.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		logOutput = zerolog.ConsoleWriter{Out: os.Stderr}
		log.Logger = log.Output(logOutput)
		return
	}

	multi := io.MultiWriter(logFile, os.Stderr)
	logOutput = zerolog.ConsoleWriter{Out: multi, TimeFormat: time.RFC3339}
	log.Logger = log.Output(logOutput)
}

// attachLoki tees JSON logs to Loki. The returned func restores the previous
// logger and flushes what is left.
func attachLoki(url, nodeName string, extra map[string]string) func() {
	if url == "" {
		return func() {}
	}

	labels := map[string]string{"node": nodeName}
	for k, v := range extra {
		labels[k] = v
	}

	w := loki.NewWriter(loki.Config{URL: url, Labels: labels})
	w.Start()

	prev := log.Logger
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(logOutput, w)).With().Timestamp().Logger()
	log.Info().Str("url", url).Msg("shipping logs to loki")

	return func() {
		log.Logger = prev
		w.Stop()
		if dropped := w.Dropped(); dropped > 0 {
			log.Warn().Uint64("dropped", dropped).Msg("loki buffer overflowed")
		}
	}
}

// applyConfigLogLevel lets the config file raise or lower verbosity when the
// command line left the default.
func applyConfigLogLevel(level string) {
	if level == "" {
		return
	}
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
}
