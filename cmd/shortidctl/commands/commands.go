// Package commands implements CLI command handlers for shortidctl.
package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parlorchat/go-parlor-shortid/counter"
	"github.com/parlorchat/go-parlor-shortid/kvstore"
	"github.com/parlorchat/go-parlor-shortid/kvstore/ledger"
	"github.com/parlorchat/go-parlor-shortid/kvstore/sqlite"
	"github.com/parlorchat/go-parlor-shortid/shortid"
	"github.com/parlorchat/go-parlor-shortid/snapshot"
)

// Backends selectable with --backend or store.backend.
const (
	BackendSQLite = "sqlite"
	BackendLedger = "ledger"
)

const serviceName = "shortidctl"

// Sentinel command errors.
var (
	ErrUnknownBackend = errors.New("unknown store backend")
	ErrNoStorePath    = errors.New("store path not set")
	ErrUnknownFormat  = errors.New("unknown output format")
	ErrUnknownMap     = errors.New("unknown map")
	ErrVerifyFailed   = errors.New("verification failed")
	ErrNoTarget       = errors.New("no snapshot target")
	ErrNoName         = errors.New("no snapshot name")
)

// Config holds all configuration for shortidctl.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`
	Azure   AzureConfig   `mapstructure:"azure"`
}

// StoreConfig names the backend and where it lives.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// AzureConfig holds the blob snapshot target.
type AzureConfig struct {
	Container string `mapstructure:"container"`
	Prefix    string `mapstructure:"prefix"`
}

// LoadConfig loads configuration from file and environment variables. A
// missing default config file is not an error, an explicitly named one must
// exist.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("shortidctl")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("/etc/parlor")
	}

	viperCfg.SetEnvPrefix("SHORTIDCTL")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	return &config, nil
}

func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("store.backend", BackendSQLite)
	viperCfg.SetDefault("store.path", "")

	viperCfg.SetDefault("logging.level", "NOOP")

	viperCfg.SetDefault("azure.container", "")
	viperCfg.SetDefault("azure.prefix", snapshot.DefaultBlobPrefix)
}

// resolveConfig layers precedence: built in defaults, then the config file
// and environment, then any flag set on the command line.
func resolveConfig(cmd *cobra.Command) (*Config, error) {
	configPath := flagValue(cmd, "config")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if flagChanged(cmd, "backend") {
		cfg.Store.Backend = flagValue(cmd, "backend")
	}
	if flagChanged(cmd, "path") {
		cfg.Store.Path = flagValue(cmd, "path")
	}
	if flagChanged(cmd, "log-level") {
		cfg.Logging.Level = flagValue(cmd, "log-level")
	}

	if cfg.Store.Backend != BackendSQLite && cfg.Store.Backend != BackendLedger {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Store.Backend)
	}

	return cfg, nil
}

func flagValue(cmd *cobra.Command, name string) string {
	f := cmd.Flags().Lookup(name)
	if f == nil {
		return ""
	}
	return f.Value.String()
}

func flagChanged(cmd *cobra.Command, name string) bool {
	f := cmd.Flags().Lookup(name)
	return f != nil && f.Changed
}

// storeHandle is an opened backend plus the configuration that selected it.
type storeHandle struct {
	cfg *Config
	log logger.Logger
	db  kvstore.DB
}

func (h *storeHandle) close() {
	if err := h.db.Close(); err != nil {
		h.log.Infof("close store: %v", err)
	}
}

// openBackend opens the configured store. unsyncedWrites only affects the
// ledger backend, which can skip the per insert fsync during bulk loads.
func openBackend(cmd *cobra.Command, unsyncedWrites bool) (*storeHandle, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Path == "" {
		return nil, fmt.Errorf("%w: pass --path or set store.path", ErrNoStorePath)
	}

	logger.New(cfg.Logging.Level)
	log := logger.Sugar.WithServiceName(serviceName)

	var db kvstore.DB
	switch cfg.Store.Backend {
	case BackendSQLite:
		db, err = sqlite.Open(log, cfg.Store.Path)
	case BackendLedger:
		var lopts []ledger.Option
		if unsyncedWrites {
			lopts = append(lopts, ledger.WithUnsyncedWrites())
		}
		db, err = ledger.Open(log, cfg.Store.Path, lopts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Store.Backend)
	}
	if err != nil {
		return nil, err
	}

	return &storeHandle{cfg: cfg, log: log, db: db}, nil
}

// allMapNames is every map shortidctl can address: the six interning maps
// plus the stored counter map.
func allMapNames() []string {
	return append(shortid.MapNames(), counter.StoredCounterMap)
}

// NewRootCommand builds the shortidctl command tree.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shortidctl",
		Short: "Inspect and manage parlor short id stores",
		Long: `shortidctl operates on the interning store that maps chat identifiers
to dense 8 byte short ids.

Commands:
  stats       Per map entry counts
  dump        Ordered listing of one map
  verify      Cross check forward and reverse maps
  snapshot    Capture, restore and list store snapshots
  next-count  Mint one counter value`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "config file path")
	cmd.PersistentFlags().String("backend", "", "store backend: sqlite or ledger")
	cmd.PersistentFlags().StringP("path", "p", "", "store path (sqlite file or ledger directory)")
	cmd.PersistentFlags().String("log-level", "", "log level, NOOP silences logging")

	cmd.AddCommand(NewStatsCommand())
	cmd.AddCommand(NewDumpCommand())
	cmd.AddCommand(NewVerifyCommand())
	cmd.AddCommand(NewSnapshotCommand())
	cmd.AddCommand(NewNextCountCommand())

	return cmd
}
