package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gitlab.com/tozd/go/errors"
)

// CrateList is the set of library crates to document. A comma-separated
// string decodes into it, so QUARRY_TOOLCHAIN_CRATES=std,core works.
type CrateList []string

type ToolchainConfig struct {
	Name           string    `mapstructure:"name"`
	Cargo          string    `mapstructure:"cargo"`
	Rustc          string    `mapstructure:"rustc"`
	Crates         CrateList `mapstructure:"crates"`
	Workspace      string    `mapstructure:"workspace"`
	TimeoutSeconds int       `mapstructure:"timeout_seconds"`
}

// Timeout returns the per-invocation limit, or 0 for none.
func (t ToolchainConfig) Timeout() time.Duration {
	if t.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(t.TimeoutSeconds) * time.Second
}

type RustdocConfig struct {
	MinFormatVersion int `mapstructure:"min_format_version"`
	MaxFormatVersion int `mapstructure:"max_format_version"`
}

type StoreConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type DaemonConfig struct {
	ExpirationSeconds int `mapstructure:"expiration_seconds"`
}

type Config struct {
	Toolchain ToolchainConfig `mapstructure:"toolchain"`
	Rustdoc   RustdocConfig   `mapstructure:"rustdoc"`
	Store     StoreConfig     `mapstructure:"store"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
}

// Supported rustdoc JSON format versions, mirrored from the decoder so the
// config package stays a leaf.
const (
	defaultMinFormatVersion = 30
	defaultMaxFormatVersion = 64
)

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Toolchain: ToolchainConfig{
			Name:   "nightly",
			Cargo:  "cargo",
			Rustc:  "rustc",
			Crates: CrateList{"std", "alloc", "core"},
		},
		Rustdoc: RustdocConfig{
			MinFormatVersion: defaultMinFormatVersion,
			MaxFormatVersion: defaultMaxFormatVersion,
		},
		Store:  StoreConfig{Enabled: true},
		Daemon: DaemonConfig{ExpirationSeconds: 600},
	}
}

// cacheBase returns the base cache directory for quarry.
// Checks XDG_CACHE_HOME, then ~/.cache, then /tmp/quarry as fallback.
func cacheBase() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "quarry")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "quarry")
	}
	return filepath.Join(os.TempDir(), "quarry")
}

// TargetDir returns the cargo target directory rustdoc writes into.
func TargetDir() string {
	return filepath.Join(cacheBase(), "target")
}

// ArtifactDir returns the directory of compressed rustdoc JSON artifacts.
func ArtifactDir() string {
	return filepath.Join(cacheBase(), "json")
}

// DBPath returns the path to the DuckDB database file.
func DBPath() string {
	return filepath.Join(cacheBase(), "db.db")
}

// LogPath returns the path to the daemon's log file.
func LogPath() string {
	return filepath.Join(cacheBase(), "daemon.log")
}

// SocketPath returns the path to the daemon's unix socket.
func SocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "quarry", "daemon.sock")
	}
	return filepath.Join(fmt.Sprintf("/run/user/%d", os.Getuid()), "quarry", "daemon.sock")
}

func InitializeViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("toml")

	viper.AddConfigPath(".")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		viper.AddConfigPath(filepath.Join(xdg, "quarry"))
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "quarry"))
	}

	def := Default()
	viper.SetDefault("toolchain.name", def.Toolchain.Name)
	viper.SetDefault("toolchain.cargo", def.Toolchain.Cargo)
	viper.SetDefault("toolchain.rustc", def.Toolchain.Rustc)
	viper.SetDefault("toolchain.crates", []string(def.Toolchain.Crates))
	viper.SetDefault("toolchain.workspace", "")
	viper.SetDefault("toolchain.timeout_seconds", 0)
	viper.SetDefault("rustdoc.min_format_version", def.Rustdoc.MinFormatVersion)
	viper.SetDefault("rustdoc.max_format_version", def.Rustdoc.MaxFormatVersion)
	viper.SetDefault("store.enabled", def.Store.Enabled)
	viper.SetDefault("daemon.expiration_seconds", def.Daemon.ExpirationSeconds)

	viper.SetEnvPrefix("QUARRY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errors.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

func stringToCrateListHookFunc() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data interface{}) (interface{}, error) {
		if t != reflect.TypeOf(CrateList{}) {
			return data, nil
		}
		if f.Kind() == reflect.String {
			crates := CrateList{}
			for _, c := range strings.Split(data.(string), ",") {
				if c = strings.TrimSpace(c); c != "" {
					crates = append(crates, c)
				}
			}
			return crates, nil
		}
		return data, nil
	}
}

func Load() (*Config, error) {
	if err := InitializeViper(); err != nil {
		return nil, err
	}
	return decode(viper.AllSettings())
}

// decode overlays settings onto the defaults and validates the result.
func decode(settings map[string]interface{}) (*Config, error) {
	config := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       stringToCrateListHookFunc(),
		WeaklyTypedInput: true,
		Result:           config,
	})
	if err != nil {
		return nil, errors.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, errors.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects configurations the toolchain driver cannot run with.
func (c *Config) Validate() error {
	if len(c.Toolchain.Crates) == 0 {
		return errors.New("toolchain.crates must name at least one crate")
	}
	if c.Toolchain.Cargo == "" || c.Toolchain.Rustc == "" {
		return errors.New("toolchain.cargo and toolchain.rustc must be set")
	}
	if c.Rustdoc.MinFormatVersion > c.Rustdoc.MaxFormatVersion {
		return errors.Errorf("rustdoc.min_format_version %d exceeds max_format_version %d",
			c.Rustdoc.MinFormatVersion, c.Rustdoc.MaxFormatVersion)
	}
	if c.Toolchain.TimeoutSeconds < 0 {
		return errors.Errorf("toolchain.timeout_seconds must not be negative, got %d", c.Toolchain.TimeoutSeconds)
	}
	return nil
}
