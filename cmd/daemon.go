package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/jcdickinson/quarry"
	"github.com/jcdickinson/quarry/internal/config"
	"github.com/jcdickinson/quarry/internal/daemon"
	"github.com/jcdickinson/quarry/internal/logging"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background daemon (usually spawned automatically)",
	Run:   runDaemon,
}

var daemonWarm bool

func init() {
	daemonCmd.Flags().BoolVar(&daemonWarm, "warm", true, "build the struct table as soon as the daemon starts")
}

func runDaemon(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()

	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		fatal(ctx, "invalid log level", err)
	}
	ctx, logFile, err := logging.SetupFile(ctx, config.LogPath(), level)
	if err != nil {
		fatal(ctx, "failed to open log file", err)
	}
	defer logFile.Close()

	cfg, err := config.Load()
	if err != nil {
		fatal(ctx, "failed to load config", err)
	}

	analyzer, err := quarry.NewAnalyzer(ctx, cfg)
	if err != nil {
		fatal(ctx, "failed to create analyzer", err)
	}
	defer analyzer.Close()

	srv := daemon.NewServer(analyzer, daemon.Options{
		SocketPath: config.SocketPath(),
		Expiration: time.Duration(cfg.Daemon.ExpirationSeconds) * time.Second,
		Warm:       daemonWarm,
	})
	if err := srv.Start(ctx); err != nil {
		analyzer.Close()
		fatal(ctx, "daemon failed", err)
	}
}
