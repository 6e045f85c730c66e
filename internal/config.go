package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/willibrandon/tusk-sub004/internal/sql/executor"
)

const EnvPrefix = "TUSK"

type ConnectionConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

type QueryConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	RowLimit    int           `mapstructure:"row_limit"`
	BatchSize   int           `mapstructure:"batch_size"`
	StopOnError bool          `mapstructure:"stop_on_error"`
	ReadOnly    bool          `mapstructure:"read_only"`
}

// Options converts the config into executor options.
func (q QueryConfig) Options() executor.Options {
	return executor.Options{
		Timeout:     q.Timeout,
		RowLimit:    q.RowLimit,
		BatchSize:   q.BatchSize,
		StopOnError: q.StopOnError,
		ReadOnly:    q.ReadOnly,
	}
}

type TuskConfig struct {
	AppName string `mapstructure:"app_name"`

	Log struct {
		Level string `mapstructure:"level"`
		JSON  bool   `mapstructure:"json"`
	} `mapstructure:"log"`

	Connections map[string]ConnectionConfig `mapstructure:"connections"`

	Query struct {
		Interactive QueryConfig `mapstructure:"interactive"`
		Bulk        QueryConfig `mapstructure:"bulk"`
	} `mapstructure:"query"`

	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`

	History struct {
		Path       string `mapstructure:"path"`
		MaxEntries int    `mapstructure:"max_entries"`
	} `mapstructure:"history"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "tusk")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	i, b := executor.Interactive(), executor.Bulk()
	v.SetDefault("query.interactive.timeout", i.Timeout)
	v.SetDefault("query.interactive.row_limit", i.RowLimit)
	v.SetDefault("query.interactive.batch_size", i.BatchSize)
	v.SetDefault("query.interactive.stop_on_error", i.StopOnError)
	v.SetDefault("query.interactive.read_only", i.ReadOnly)
	v.SetDefault("query.bulk.timeout", b.Timeout)
	v.SetDefault("query.bulk.row_limit", b.RowLimit)
	v.SetDefault("query.bulk.batch_size", b.BatchSize)
	v.SetDefault("query.bulk.stop_on_error", b.StopOnError)
	v.SetDefault("query.bulk.read_only", b.ReadOnly)

	v.SetDefault("server.addr", "127.0.0.1:8866")
	v.SetDefault("history.path", "")
	v.SetDefault("history.max_entries", 2000)
}

// FlagKeys maps command line flag names to the config keys they override.
var FlagKeys = map[string]string{
	"addr":        "server.addr",
	"log-level":   "log.level",
	"log-json":    "log.json",
	"history":     "history.path",
	"history-max": "history.max_entries",
}

// LoadConfig reads the YAML file at path. An empty path uses defaults and
// the environment only. TUSK_* variables override file values, e.g.
// TUSK_SERVER_ADDR.
func LoadConfig(path string) (*TuskConfig, error) {
	return LoadConfigWithFlags(path, nil)
}

// LoadConfigWithFlags is LoadConfig with flags from FlagKeys bound on top.
// Flags override the environment, but only when set on the command line.
func LoadConfigWithFlags(path string, flags *pflag.FlagSet) (*TuskConfig, error) {
	v := viper.New()
	setDefaults(v)

	if flags != nil {
		for name, key := range FlagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %q: %w", name, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg TuskConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	for id, c := range cfg.Connections {
		if strings.TrimSpace(c.DSN) == "" {
			return nil, fmt.Errorf("config: connection %q has no dsn", id)
		}
	}

	return &cfg, nil
}
