package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"

	"github.com/jcdickinson/quarry"
	"github.com/jcdickinson/quarry/internal/analysis"
	"github.com/jcdickinson/quarry/internal/config"
	"github.com/jcdickinson/quarry/internal/daemon"
	"github.com/jcdickinson/quarry/internal/logging"
	"github.com/jcdickinson/quarry/internal/mcp"
)

// Version is reported to MCP clients.
var Version = "dev"

var (
	debug    bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "Rust standard library struct layout MCP server",
	Long: `quarry reports the fields, generics and kind of Rust structs in the
standard library crates of the local toolchain. Without a subcommand it
serves MCP over stdio, backed by a background daemon that keeps the struct
table warm.`,
	PersistentPreRunE: setupLogging,
	SilenceUsage:      true,
	Run:               runServe,
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "analyze in-process instead of through the daemon (visible log output)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(existsCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(clearCacheCmd)
}

// setupLogging logs to stderr. --debug lowers the level to debug.
func setupLogging(cmd *cobra.Command, args []string) error {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	if debug {
		level = slog.LevelDebug
	}
	cmd.SetContext(logging.Setup(cmd.Context(), os.Stderr, level, isTerminal(os.Stderr)))
	return nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// fatal logs err and exits. Commands report failures this way rather than
// through cobra so the usage text is not printed.
func fatal(ctx context.Context, msg string, err error) {
	slogctx.FromCtx(ctx).ErrorContext(ctx, msg, "error", err)
	os.Exit(1)
}

// connectService returns the analysis backend for a command. Normally that is
// the daemon, spawned on demand. In debug mode any running daemon is stopped
// and the analysis runs in this process so every log line is visible.
func connectService(ctx context.Context) (analysis.Service, func(), error) {
	socketPath := config.SocketPath()

	if !debug {
		client, err := daemon.ConnectOrSpawn(ctx, socketPath)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	}

	client := daemon.NewClient(socketPath)
	if client.IsAvailable() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client.Shutdown(shutdownCtx)
		cancel()
		time.Sleep(200 * time.Millisecond)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Errorf("loading config: %w", err)
	}
	a, err := quarry.NewAnalyzer(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return a, func() { a.Close() }, nil
}

func runServe(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()

	svc, closeSvc, err := connectService(ctx)
	if err != nil {
		fatal(ctx, "failed to connect to daemon", err)
	}
	defer closeSvc()

	server := mcp.NewServer(svc, Version)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	if err := waitForSignal(ctx, errCh); err != nil {
		closeSvc()
		fatal(ctx, "server error", err)
	}
}

func waitForSignal(ctx context.Context, errCh chan error) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		slogctx.FromCtx(ctx).InfoContext(ctx, "received signal", "signal", sig.String())
		return nil
	case err := <-errCh:
		return err
	}
}
