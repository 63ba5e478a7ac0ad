// Package config loads node configuration from an optional YAML file and
// the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendDynamo = "dynamo"
)

// Config captures the node runtime parameters.
type Config struct {
	ListenAddress       string        `mapstructure:"listen_address"`
	AdminAddress        string        `mapstructure:"admin_address"`
	LogLevel            string        `mapstructure:"log_level"`
	LogEncoding         string        `mapstructure:"log_encoding"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
	Store               StoreConfig   `mapstructure:"store"`
	Gateway             GatewayConfig `mapstructure:"gateway"`
}

// StoreConfig selects and parameterizes the durable store backend.
type StoreConfig struct {
	Backend    string       `mapstructure:"backend"`
	SQLitePath string       `mapstructure:"sqlite_path"`
	Dynamo     DynamoConfig `mapstructure:"dynamo"`
}

// DynamoConfig names the DynamoDB tables backing the directory and history.
type DynamoConfig struct {
	Region        string `mapstructure:"region"`
	UsersTable    string `mapstructure:"users_table"`
	MessagesTable string `mapstructure:"messages_table"`
}

// GatewayConfig bounds per-connection websocket resources.
type GatewayConfig struct {
	SendBuffer   int           `mapstructure:"send_buffer"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
}

const (
	defaultListenAddress       = "0.0.0.0:8080"
	defaultAdminAddress        = "127.0.0.1:9090"
	defaultLogLevel            = "info"
	defaultLogEncoding         = "json"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultBackend             = BackendMemory
	defaultSQLitePath          = "data/parley.db"
	defaultUsersTable          = "chat-users"
	defaultMessagesTable       = "chat-conversations"
)

// Load reads configuration from the provided file path (if any) and the
// environment. Environment variables are prefixed with PARLEY_ and override
// file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PARLEY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("listen_address", defaultListenAddress)
	v.SetDefault("admin_address", defaultAdminAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("log_encoding", defaultLogEncoding)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("store.backend", defaultBackend)
	v.SetDefault("store.sqlite_path", defaultSQLitePath)
	v.SetDefault("store.dynamo.region", "")
	v.SetDefault("store.dynamo.users_table", defaultUsersTable)
	v.SetDefault("store.dynamo.messages_table", defaultMessagesTable)
	v.SetDefault("gateway.send_buffer", 64)
	v.SetDefault("gateway.read_limit", 1<<20)
	v.SetDefault("gateway.write_timeout", (10 * time.Second).String())
	v.SetDefault("gateway.ping_period", (30 * time.Second).String())
	v.SetDefault("gateway.read_timeout", (60 * time.Second).String())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	switch cfg.Store.Backend {
	case BackendMemory, BackendSQLite, BackendDynamo:
	default:
		return Config{}, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if cfg.Store.Backend == BackendSQLite && cfg.Store.SQLitePath == "" {
		return Config{}, fmt.Errorf("store.sqlite_path is required for the sqlite backend")
	}

	return cfg, nil
}
