// Package config provides configuration management for mongomigrate using Viper.
package config

import (
	"context"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mongomigrate/mongomigrate/errors"
	"github.com/mongomigrate/mongomigrate/log"
)

// Config holds all mongomigrate configuration.
type Config struct {
	Port   int    `mapstructure:"port"`
	Source string `mapstructure:"source"`
	Target string `mapstructure:"target"`

	// Mode is the raw migration mode ("complete" or "newOnly").
	Mode string `mapstructure:"mode"`

	IncludeCollections []string `mapstructure:"include-collections"`
	ExcludeCollections []string `mapstructure:"exclude-collections"`

	// Yes confirms destructive operations without asking.
	Yes bool `mapstructure:"yes"`

	Log LogConfig `mapstructure:",squash"`

	MongoDB MongoDBConfig `mapstructure:",squash"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level   string `mapstructure:"log-level"`
	JSON    bool   `mapstructure:"log-json"`
	NoColor bool   `mapstructure:"log-no-color"`
}

// MongoDBConfig holds MongoDB client configuration.
type MongoDBConfig struct {
	ServerSelectionTimeout time.Duration `mapstructure:"mongodb-server-selection-timeout"`
	ConnectTimeout         time.Duration `mapstructure:"mongodb-connect-timeout"`
	OperationTimeout       time.Duration `mapstructure:"mongodb-operation-timeout"`
	Compressors            []string      `mapstructure:"mongodb-compressors"`
}

// Load initializes Viper and returns the Config.
func Load(cmd *cobra.Command) (*Config, error) {
	viper.SetEnvPrefix("MONGOMIGRATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cmd.PersistentFlags() != nil {
		_ = viper.BindPFlags(cmd.PersistentFlags())
	}

	if cmd.Flags() != nil {
		_ = viper.BindPFlags(cmd.Flags())
	}

	bindEnvVars()

	var cfg Config

	err := viper.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	cfg.MongoDB.Compressors = filterCompressors(cfg.MongoDB.Compressors)

	return &cfg, nil
}

// WarnDeprecatedEnvVars logs warnings for any deprecated environment variables that are set.
// Expects the logger to be initialized.
func WarnDeprecatedEnvVars(ctx context.Context) {
	deprecated := map[string]string{
		"SOURCE_URI": "MONGOMIGRATE_SOURCE_URI",
		"TARGET_URI": "MONGOMIGRATE_TARGET_URI",
	}

	for old, replacement := range deprecated {
		if _, ok := os.LookupEnv(old); ok {
			log.Ctx(ctx).Warnf(
				"Environment variable %s is deprecated; use %s instead",
				old, replacement,
			)
		}
	}
}

func bindEnvVars() {
	_ = viper.BindEnv("port", "MONGOMIGRATE_PORT", "PORT")

	_ = viper.BindEnv("source", "MONGOMIGRATE_SOURCE_URI", "SOURCE_URI")
	_ = viper.BindEnv("target", "MONGOMIGRATE_TARGET_URI", "TARGET_URI")
	_ = viper.BindEnv("mode", "MONGOMIGRATE_MODE")

	_ = viper.BindEnv("include-collections", "MONGOMIGRATE_INCLUDE_COLLECTIONS")
	_ = viper.BindEnv("exclude-collections", "MONGOMIGRATE_EXCLUDE_COLLECTIONS")

	_ = viper.BindEnv("log-level", "MONGOMIGRATE_LOG_LEVEL")
	_ = viper.BindEnv("log-json", "MONGOMIGRATE_LOG_JSON")
	_ = viper.BindEnv("log-no-color", "MONGOMIGRATE_LOG_NO_COLOR", "NO_COLOR")

	_ = viper.BindEnv("mongodb-server-selection-timeout", "MONGOMIGRATE_MONGODB_SERVER_SELECTION_TIMEOUT")
	_ = viper.BindEnv("mongodb-connect-timeout", "MONGOMIGRATE_MONGODB_CONNECT_TIMEOUT")
	_ = viper.BindEnv("mongodb-operation-timeout", "MONGOMIGRATE_MONGODB_OPERATION_TIMEOUT")
	_ = viper.BindEnv("mongodb-compressors", "MONGOMIGRATE_MONGODB_COMPRESSORS")
}

//nolint:gochecknoglobals
var allowedCompressors = []string{"zstd", "zlib", "snappy"}

func filterCompressors(compressors []string) []string {
	if len(compressors) == 0 {
		return nil
	}

	filtered := make([]string, 0, len(allowedCompressors))

	for _, c := range compressors {
		c = strings.TrimSpace(c)
		if slices.Contains(allowedCompressors, c) && !slices.Contains(filtered, c) {
			filtered = append(filtered, c)
		}
	}

	return filtered
}
