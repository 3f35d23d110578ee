package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/jcdickinson/quarry/internal/errdefs"
	"github.com/jcdickinson/quarry/internal/markdown"
	"github.com/jcdickinson/quarry/internal/rustdoc"
)

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Show the layout of a struct by its full module path",
	Example: `  quarry get alloc::vec::Vec
  quarry get std::collections::HashMap --output markdown
  quarry get core::num::Wrapping --output yaml`,
	Args: cobra.ExactArgs(1),
	Run:  runGet,
}

var getOutput string

func init() {
	getCmd.Flags().StringVarP(&getOutput, "output", "o", "json", "output format: json, yaml, markdown or html")
}

// renderStruct formats info for the get command.
func renderStruct(info *rustdoc.StructInfo, format string) (string, error) {
	switch format {
	case "json":
		out, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return "", errors.WithStack(err)
		}
		return string(out) + "\n", nil
	case "yaml":
		out, err := yaml.Marshal(info)
		if err != nil {
			return "", errors.WithStack(err)
		}
		return string(out), nil
	case "markdown", "md":
		return markdown.Struct(info), nil
	case "html":
		return markdown.HTML(markdown.Struct(info)), nil
	}
	return "", errors.Errorf("unknown output format %q", format)
}

func runGet(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	path := strings.TrimSpace(args[0])

	svc, closeSvc, err := connectService(ctx)
	if err != nil {
		fatal(ctx, "failed to connect to daemon", err)
	}
	defer closeSvc()

	info, err := svc.Lookup(ctx, path)
	if err != nil {
		closeSvc()
		// Lookup misses are user errors; print them plainly.
		if code := errdefs.Code(err); code == errdefs.CodeTypeNotFound || code == errdefs.CodeNotAStruct {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		fatal(ctx, "lookup failed", err)
	}

	out, err := renderStruct(info, getOutput)
	if err != nil {
		closeSvc()
		fatal(ctx, "rendering failed", err)
	}
	fmt.Print(out)
}

var existsCmd = &cobra.Command{
	Use:   "exists <path>",
	Short: "Report whether a full module path names a struct (exit status 1 if not)",
	Args:  cobra.ExactArgs(1),
	Run:   runExists,
}

func runExists(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	svc, closeSvc, err := connectService(ctx)
	if err != nil {
		fatal(ctx, "failed to connect to daemon", err)
	}
	ok := svc.Exists(ctx, strings.TrimSpace(args[0]))
	closeSvc()

	fmt.Println(ok)
	if !ok {
		os.Exit(1)
	}
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List struct paths",
	Example: `  quarry list --prefix std::collections::
  quarry list --json`,
	Run: runList,
}

var (
	listPrefix string
	listJSON   bool
)

func init() {
	listCmd.Flags().StringVar(&listPrefix, "prefix", "", "only list paths starting with this prefix")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output as JSON")
}

func filterPrefix(paths []string, prefix string) []string {
	matched := []string{}
	for _, p := range paths {
		if strings.HasPrefix(p, prefix) {
			matched = append(matched, p)
		}
	}
	return matched
}

func runList(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	svc, closeSvc, err := connectService(ctx)
	if err != nil {
		fatal(ctx, "failed to connect to daemon", err)
	}
	defer closeSvc()

	paths, err := svc.List(ctx)
	if err != nil {
		closeSvc()
		fatal(ctx, "list failed", err)
	}
	paths = filterPrefix(paths, listPrefix)

	if listJSON {
		out, _ := json.MarshalIndent(paths, "", "  ")
		fmt.Println(string(out))
		return
	}
	if len(paths) == 0 {
		fmt.Println("no struct paths found")
		return
	}
	for _, p := range paths {
		fmt.Println(p)
	}
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many struct paths the daemon has cached",
	Run:   runStats,
}

var statsJSON bool

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
}

func runStats(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	svc, closeSvc, err := connectService(ctx)
	if err != nil {
		fatal(ctx, "failed to connect to daemon", err)
	}
	defer closeSvc()

	stats, err := svc.Stats(ctx)
	if err != nil {
		closeSvc()
		fatal(ctx, "stats failed", err)
	}

	if statsJSON {
		out, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(out))
		return
	}
	state := "not initialized"
	if stats.Initialized {
		state = "initialized"
	}
	fmt.Printf("  %d struct paths [%s]\n", stats.Entries, state)
}
