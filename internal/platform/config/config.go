package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
// A zero TreeCacheTTL disables the verified-tree cache.
type Config struct {
	ServiceName string
	PostgresDSN string
	EthRPCURL   string
	IPFSAPIURL  string
	MetricsAddr string
	LogLevel    string
	LogFile     string

	SnapshotPollInterval   time.Duration
	SnapshotScanStartBlock uint64
	SnapshotLogChunkSize   uint64
	TreeCacheTTL           time.Duration
	PayoutManagerAddress   string
}

// fileConfig mirrors Config for the optional CONFIG_FILE. Durations are Go
// duration strings ("15s").
type fileConfig struct {
	ServiceName string `yaml:"service_name"`
	PostgresDSN string `yaml:"postgres_dsn"`
	EthRPCURL   string `yaml:"eth_rpc_url"`
	IPFSAPIURL  string `yaml:"ipfs_api_url"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`

	Snapshot struct {
		PollInterval   string  `yaml:"poll_interval"`
		ScanStartBlock *uint64 `yaml:"scan_start_block"`
		LogChunkSize   *uint64 `yaml:"log_chunk_size"`
	} `yaml:"snapshot"`
	TreeCacheTTL         string `yaml:"tree_cache_ttl"`
	PayoutManagerAddress string `yaml:"payout_manager_address"`
}

func defaults() Config {
	return Config{
		ServiceName:          "assetsnap",
		MetricsAddr:          ":9090",
		LogLevel:             "info",
		SnapshotPollInterval: 5 * time.Second,
		SnapshotLogChunkSize: 5000,
	}
}

// Load applies defaults, then CONFIG_FILE (if set), then environment variables.
func Load() (Config, error) {
	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.SnapshotPollInterval <= 0 {
		return Config{}, fmt.Errorf("SNAPSHOT_POLL_INTERVAL must be positive")
	}
	if cfg.SnapshotLogChunkSize == 0 {
		return Config{}, fmt.Errorf("SNAPSHOT_LOG_CHUNK_SIZE must be positive")
	}
	if cfg.TreeCacheTTL < 0 {
		return Config{}, fmt.Errorf("TREE_CACHE_TTL must not be negative")
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&cfg.ServiceName, file.ServiceName)
	setString(&cfg.PostgresDSN, file.PostgresDSN)
	setString(&cfg.EthRPCURL, file.EthRPCURL)
	setString(&cfg.IPFSAPIURL, file.IPFSAPIURL)
	setString(&cfg.MetricsAddr, file.MetricsAddr)
	setString(&cfg.LogLevel, file.LogLevel)
	setString(&cfg.LogFile, file.LogFile)
	setString(&cfg.PayoutManagerAddress, file.PayoutManagerAddress)
	if file.Snapshot.ScanStartBlock != nil {
		cfg.SnapshotScanStartBlock = *file.Snapshot.ScanStartBlock
	}
	if file.Snapshot.LogChunkSize != nil {
		cfg.SnapshotLogChunkSize = *file.Snapshot.LogChunkSize
	}
	if err := setDuration(&cfg.SnapshotPollInterval, "snapshot.poll_interval", file.Snapshot.PollInterval); err != nil {
		return err
	}
	return setDuration(&cfg.TreeCacheTTL, "tree_cache_ttl", file.TreeCacheTTL)
}

func applyEnv(cfg *Config) error {
	setString(&cfg.ServiceName, os.Getenv("SERVICE_NAME"))
	setString(&cfg.PostgresDSN, os.Getenv("POSTGRES_DSN"))
	setString(&cfg.EthRPCURL, os.Getenv("ETH_RPC_URL"))
	setString(&cfg.IPFSAPIURL, os.Getenv("IPFS_API_URL"))
	setString(&cfg.MetricsAddr, os.Getenv("METRICS_ADDR"))
	setString(&cfg.LogLevel, os.Getenv("LOG_LEVEL"))
	setString(&cfg.LogFile, os.Getenv("LOG_FILE"))
	setString(&cfg.PayoutManagerAddress, os.Getenv("PAYOUT_MANAGER_ADDRESS"))

	if err := setDuration(&cfg.SnapshotPollInterval, "SNAPSHOT_POLL_INTERVAL", os.Getenv("SNAPSHOT_POLL_INTERVAL")); err != nil {
		return err
	}
	if err := setDuration(&cfg.TreeCacheTTL, "TREE_CACHE_TTL", os.Getenv("TREE_CACHE_TTL")); err != nil {
		return err
	}
	if err := setUint(&cfg.SnapshotScanStartBlock, "SNAPSHOT_SCAN_START_BLOCK", os.Getenv("SNAPSHOT_SCAN_START_BLOCK")); err != nil {
		return err
	}
	return setUint(&cfg.SnapshotLogChunkSize, "SNAPSHOT_LOG_CHUNK_SIZE", os.Getenv("SNAPSHOT_LOG_CHUNK_SIZE"))
}

func setString(target *string, raw string) {
	if value := strings.TrimSpace(raw); value != "" {
		*target = value
	}
}

func setDuration(target *time.Duration, name string, raw string) error {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*target = parsed
	return nil
}

func setUint(target *uint64, name string, raw string) error {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*target = parsed
	return nil
}
