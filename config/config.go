package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"clustermgr/pkg/scheduler"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Cluster  ClusterConfig  `mapstructure:"cluster"`
	Election ElectionConfig `mapstructure:"election"`
	Bus      BusConfig      `mapstructure:"bus"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig contains the gRPC listener configuration
type ServerConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	MaxMessageSize int    `mapstructure:"max_message_size"`
}

// ClusterConfig contains the coordination settings of this cluster manager
type ClusterConfig struct {
	Name                string            `mapstructure:"name"`
	NodeID              string            `mapstructure:"node_id"`
	ClusterID           string            `mapstructure:"cluster_id"`
	Region              string            `mapstructure:"region"`
	InitialTime         time.Duration     `mapstructure:"initial_time"`
	CheckAlivePeriod    time.Duration     `mapstructure:"check_alive_period"`
	CheckAliveCount     uint              `mapstructure:"check_alive_count"`
	Strategy            map[string]string `mapstructure:"strategy"`
	ScheduleReserveTime time.Duration     `mapstructure:"schedule_reserve_time"`
	// URL is the external registry receiving capacity notifications; empty disables them
	URL           string        `mapstructure:"url"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
}

// ElectionConfig contains the master election intervals
type ElectionConfig struct {
	RecommendInterval   time.Duration `mapstructure:"recommend_interval"`
	DecideAfter         time.Duration `mapstructure:"decide_after"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	SuperviseInterval   time.Duration `mapstructure:"supervise_interval"`
	MaxMissedHeartbeats int           `mapstructure:"max_missed_heartbeats"`
}

// BusConfig selects the publish/subscribe channel between replicas
type BusConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// StorageConfig selects where task reservations are kept
type StorageConfig struct {
	Backend  string `mapstructure:"backend"`
	DataDir  string `mapstructure:"data_dir"`
	InMemory bool   `mapstructure:"in_memory"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/clustermgr")
	}

	setDefaults(v)

	// Read environment variables, e.g. CLUSTERMGR_CLUSTER_NODE_ID
	v.SetEnvPrefix("CLUSTERMGR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 9000)
	v.SetDefault("server.max_message_size", 4*1024*1024)

	// Cluster defaults
	v.SetDefault("cluster.name", "clusterManager")
	v.SetDefault("cluster.node_id", "")
	v.SetDefault("cluster.cluster_id", "")
	v.SetDefault("cluster.region", "")
	v.SetDefault("cluster.initial_time", 6*time.Second)
	v.SetDefault("cluster.check_alive_period", time.Second)
	v.SetDefault("cluster.check_alive_count", 3)
	v.SetDefault("cluster.strategy", map[string]string{"general": scheduler.LeastUsed})
	v.SetDefault("cluster.schedule_reserve_time", 60*time.Second)
	v.SetDefault("cluster.url", "")
	v.SetDefault("cluster.notify_timeout", 5*time.Second)

	// Election defaults
	v.SetDefault("election.recommend_interval", 30*time.Millisecond)
	v.SetDefault("election.decide_after", 160*time.Millisecond)
	v.SetDefault("election.heartbeat_interval", 20*time.Millisecond)
	v.SetDefault("election.supervise_interval", 30*time.Millisecond)
	v.SetDefault("election.max_missed_heartbeats", 2)

	// Bus defaults
	v.SetDefault("bus.backend", "memory")
	v.SetDefault("bus.redis_addr", "localhost:6379")
	v.SetDefault("bus.redis_password", "")
	v.SetDefault("bus.redis_db", 0)

	// Storage defaults
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.in_memory", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 8080)
	v.SetDefault("metrics.path", "/metrics")
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Cluster.NodeID == "" {
		config.Cluster.NodeID = uuid.NewString()
	}
	if config.Cluster.Name == "" {
		return fmt.Errorf("cluster.name is required")
	}

	if config.Cluster.Strategy == nil {
		config.Cluster.Strategy = map[string]string{}
	}
	if config.Cluster.Strategy["general"] == "" {
		config.Cluster.Strategy["general"] = scheduler.LeastUsed
	}
	known := make(map[string]bool)
	for _, s := range scheduler.Strategies() {
		known[s] = true
	}
	for purpose, s := range config.Cluster.Strategy {
		if !known[s] {
			return fmt.Errorf("cluster.strategy.%s: unknown strategy %q (valid: %v)", purpose, s, scheduler.Strategies())
		}
	}

	if config.Cluster.CheckAlivePeriod <= 0 {
		return fmt.Errorf("cluster.check_alive_period must be positive")
	}
	if config.Cluster.CheckAliveCount == 0 {
		return fmt.Errorf("cluster.check_alive_count must be at least 1")
	}

	switch config.Bus.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("bus.backend must be memory or redis, got %q", config.Bus.Backend)
	}

	switch config.Storage.Backend {
	case "memory":
	case "badger":
		if !config.Storage.InMemory {
			config.Storage.DataDir = filepath.Clean(config.Storage.DataDir)
		}
	default:
		return fmt.Errorf("storage.backend must be memory or badger, got %q", config.Storage.Backend)
	}

	// Validate port ranges
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if config.Metrics.Enabled && (config.Metrics.Port < 1 || config.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be between 1 and 65535")
	}

	return nil
}

// GetDefaultConfig returns a default configuration
func GetDefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	_ = validateConfig(&config)

	return &config
}
