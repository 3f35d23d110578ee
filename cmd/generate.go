package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jcdickinson/quarry"
	"github.com/jcdickinson/quarry/internal/config"
)

var generateCmd = &cobra.Command{
	Use:   "generate <crate>",
	Short: "Run cargo doc for one crate and print the rustdoc JSON artifact path",
	Example: `  quarry generate alloc
  quarry generate std --log-level debug`,
	Args: cobra.ExactArgs(1),
	Run:  runGenerate,
}

func runGenerate(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		fatal(ctx, "failed to load config", err)
	}
	analyzer, err := quarry.NewAnalyzer(ctx, cfg)
	if err != nil {
		fatal(ctx, "failed to create analyzer", err)
	}
	defer analyzer.Close()

	path, err := analyzer.GenerateArtifact(ctx, args[0])
	if err != nil {
		analyzer.Close()
		fatal(ctx, "generate failed", err)
	}
	fmt.Println(path)
}
