package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jcdickinson/quarry/internal/config"
	"github.com/jcdickinson/quarry/internal/daemon"
)

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Drop the daemon's struct table so the next query rebuilds it",
	Run:   runClearCache,
}

var clearCachePurge bool

func init() {
	clearCacheCmd.Flags().BoolVar(&clearCachePurge, "purge", false, "also delete stored snapshots and generated artifacts")
}

func runClearCache(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	client := daemon.NewClient(config.SocketPath())
	if !client.IsAvailable() {
		fmt.Println("daemon is not running")
		return
	}

	if err := client.Clear(ctx, clearCachePurge); err != nil {
		fatal(ctx, "failed to clear cache", err)
	}
	if clearCachePurge {
		fmt.Println("struct cache cleared and purged")
		return
	}
	fmt.Println("struct cache cleared")
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	Run:   runStop,
}

func runStop(cmd *cobra.Command, args []string) {
	client := daemon.NewClient(config.SocketPath())
	if !client.IsAvailable() {
		fmt.Println("daemon is not running")
		return
	}

	// The daemon may close the connection before the response arrives.
	client.Shutdown(cmd.Context())
	fmt.Println("daemon stopped")
}
