// Package toolchain drives rustc and cargo to produce rustdoc JSON artifacts
// for library crates.
package toolchain

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"

	"github.com/jcdickinson/quarry/internal/config"
	"github.com/jcdickinson/quarry/internal/errdefs"
)

type Options struct {
	Toolchain string // rustup toolchain, passed as +<name>; empty uses the default
	Cargo     string
	Rustc     string
	Crates    []string
	Workspace string // cargo workspace; empty uses the sysroot's library/ directory
	TargetDir string
	Timeout   time.Duration
}

// OptionsFromConfig maps the toolchain section of cfg onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Toolchain: cfg.Toolchain.Name,
		Cargo:     cfg.Toolchain.Cargo,
		Rustc:     cfg.Toolchain.Rustc,
		Crates:    append([]string(nil), cfg.Toolchain.Crates...),
		Workspace: cfg.Toolchain.Workspace,
		TargetDir: config.TargetDir(),
		Timeout:   cfg.Toolchain.Timeout(),
	}
}

// Driver invokes the toolchain. Generate calls are serialized because they
// share one target directory.
type Driver struct {
	opts   Options
	runner Runner
	mu     sync.Mutex
}

// NewDriver returns a Driver. A nil runner runs real processes.
func NewDriver(opts Options, runner Runner) *Driver {
	if runner == nil {
		runner = ExecRunner{}
	}
	if opts.Cargo == "" {
		opts.Cargo = "cargo"
	}
	if opts.Rustc == "" {
		opts.Rustc = "rustc"
	}
	return &Driver{opts: opts, runner: runner}
}

// Crates returns the crates Generate builds by default.
func (d *Driver) Crates() []string {
	return append([]string(nil), d.opts.Crates...)
}

func (d *Driver) toolchainArgs(args ...string) []string {
	if d.opts.Toolchain == "" {
		return args
	}
	return append([]string{"+" + d.opts.Toolchain}, args...)
}

func (d *Driver) run(ctx context.Context, cmd Command) (Result, error) {
	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}
	slogctx.FromCtx(ctx).DebugContext(ctx, "running", "command", cmd.String(), "dir", cmd.Dir)
	return d.runner.Run(ctx, cmd)
}

// rustc runs rustc with args and returns its trimmed stdout.
func (d *Driver) rustc(ctx context.Context, args ...string) (string, error) {
	cmd := Command{Name: d.opts.Rustc, Args: d.toolchainArgs(args...)}
	res, err := d.run(ctx, cmd)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", &errdefs.ToolError{
			Command:  cmd.String(),
			ExitCode: res.ExitCode,
			Stderr:   string(res.Stderr),
			Err:      d.classify(string(res.Stderr), errdefs.ErrToolchainMissing),
		}
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

// Version returns the `rustc --version` line, which keys cached artifacts.
func (d *Driver) Version(ctx context.Context) (string, error) {
	return d.rustc(ctx, "--version")
}

// Sysroot returns the toolchain's sysroot directory.
func (d *Driver) Sysroot(ctx context.Context) (string, error) {
	return d.rustc(ctx, "--print", "sysroot")
}

// Workspace returns the cargo workspace to document: the configured one, or
// the standard library sources shipped by the rust-src component.
func (d *Driver) Workspace(ctx context.Context) (string, error) {
	if d.opts.Workspace != "" {
		manifest := filepath.Join(d.opts.Workspace, "Cargo.toml")
		if _, err := os.Stat(manifest); err != nil {
			return "", &errdefs.IOError{Op: "stat workspace manifest", Path: manifest, Err: err}
		}
		return d.opts.Workspace, nil
	}

	sysroot, err := d.Sysroot(ctx)
	if err != nil {
		return "", err
	}
	library := filepath.Join(sysroot, "lib", "rustlib", "src", "rust", "library")
	manifest := filepath.Join(library, "Cargo.toml")
	if _, err := os.Stat(manifest); err != nil {
		return "", &errdefs.ToolError{
			Command: "rustup component add rust-src" + d.toolchainFlag(),
			Err:     errors.Errorf("%w: %s not found", errdefs.ErrComponentMissing, manifest),
		}
	}
	slogctx.FromCtx(ctx).DebugContext(ctx, "found standard library workspace", "path", library)
	return library, nil
}

func (d *Driver) toolchainFlag() string {
	if d.opts.Toolchain == "" {
		return ""
	}
	return " --toolchain " + d.opts.Toolchain
}

// ArtifactPath returns where cargo doc writes the JSON artifact for crate.
func (d *Driver) ArtifactPath(crate string) string {
	return filepath.Join(d.opts.TargetDir, "doc", strings.ReplaceAll(crate, "-", "_")+".json")
}

// Generate runs cargo doc once for all crates (the configured set when none
// are given) and returns the artifact path of each.
func (d *Driver) Generate(ctx context.Context, crates ...string) (map[string]string, error) {
	if len(crates) == 0 {
		crates = d.opts.Crates
	}
	if len(crates) == 0 {
		return nil, errors.New("no crates to document")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	workspace, err := d.Workspace(ctx)
	if err != nil {
		return nil, err
	}

	args := []string{"doc"}
	for _, c := range crates {
		args = append(args, "--package", c)
	}
	args = append(args, "--lib", "--no-deps", "--document-private-items", "--target-dir", d.opts.TargetDir)

	cmd := Command{
		Name: d.opts.Cargo,
		Args: d.toolchainArgs(args...),
		Env: []string{
			"RUSTDOCFLAGS=-Z unstable-options --output-format json",
			"RUSTC_BOOTSTRAP=1",
			"__CARGO_DEFAULT_LIB_METADATA=stable",
		},
		Dir: workspace,
	}

	log := slogctx.FromCtx(ctx)
	log.InfoContext(ctx, "generating rustdoc JSON", "crates", crates, "target_dir", d.opts.TargetDir)
	start := time.Now()

	res, err := d.run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, &errdefs.ToolError{
			Command:  cmd.String(),
			ExitCode: res.ExitCode,
			Stderr:   string(res.Stderr),
			Err:      d.classify(string(res.Stderr), nil),
		}
	}

	paths := make(map[string]string, len(crates))
	for _, c := range crates {
		path := d.ArtifactPath(c)
		if _, err := os.Stat(path); err != nil {
			return nil, &errdefs.IOError{Op: "locate artifact", Path: path, Err: err}
		}
		paths[c] = path
	}
	log.InfoContext(ctx, "generated rustdoc JSON", "crates", len(paths), "elapsed", time.Since(start))
	return paths, nil
}

// GenerateOne documents a single crate and returns its artifact path.
func (d *Driver) GenerateOne(ctx context.Context, crate string) (string, error) {
	paths, err := d.Generate(ctx, crate)
	if err != nil {
		return "", err
	}
	return paths[crate], nil
}

// classify maps rustup's installation messages onto ErrToolchainMissing and ErrComponentMissing.
func (d *Driver) classify(stderr string, fallback error) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "rust-src"):
		return errors.Errorf("%w: run `rustup component add rust-src%s`", errdefs.ErrComponentMissing, d.toolchainFlag())
	case strings.Contains(lower, "toolchain") && strings.Contains(lower, "not installed"):
		return errors.Errorf("%w: run `rustup toolchain install %s`", errdefs.ErrToolchainMissing, d.opts.Toolchain)
	}
	return fallback
}
