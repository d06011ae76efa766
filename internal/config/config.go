package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v2"
)

// Config is the immutable, process-wide AEGIS node configuration. A loaded
// Config is never mutated in place; Reload builds a new one and the
// singleton pointer is swapped atomically (see Watch).
type Config struct {
	Node        NodeConfig        `yaml:"node"`
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	DropOracle  DropOracleConfig  `yaml:"drop_oracle"`
	TLSFP       TLSFPConfig       `yaml:"tls_fingerprint"`
	BotClassify BotClassifyConfig `yaml:"bot_classifier"`
	Challenge   ChallengeConfig   `yaml:"challenge"`
	WAF         WAFConfig         `yaml:"waf"`
	WasmHost    WasmHostConfig    `yaml:"wasm_host"`
	Cache       CacheConfig       `yaml:"cache"`
	OriginProxy OriginProxyConfig `yaml:"origin_proxy"`
	ThreatBus   ThreatBusConfig   `yaml:"threat_bus"`
	CRDT        CRDTConfig        `yaml:"crdt_counter"`
	MetricsAgg  MetricsAggConfig  `yaml:"metrics_aggregator"`
	Registry    RegistryConfig    `yaml:"registry"`
}

type NodeConfig struct {
	ID          string `yaml:"id"`
	Cluster     string `yaml:"cluster"`
	TrustDomain string `yaml:"trust_domain"`
}

type ServerConfig struct {
	Port            string `yaml:"port"`
	Env             string `yaml:"env"`
	Interface       string `yaml:"interface"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int    `yaml:"idle_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type DropOracleConfig struct {
	ObjectPath     string `yaml:"object_path"`
	MapPin         string `yaml:"map_pin"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
}

type TLSFPConfig struct {
	MaxClientHelloBytes int `yaml:"max_client_hello_bytes"`
}

type BotClassifyConfig struct {
	RateWindowSec     int     `yaml:"rate_window_sec"`
	RateMaxRequests   int     `yaml:"rate_max_requests"`
	PatternsPath      string  `yaml:"patterns_path"`
	SuspiciousCRDTMin float64 `yaml:"suspicious_crdt_rate_min"`
	VerdictCacheSize  int     `yaml:"verdict_cache_size"`
}

type ChallengeConfig struct {
	SigningSeedHex      string `yaml:"signing_seed_hex"`
	PowBaseBits         int    `yaml:"pow_base_bits"`
	PowMaxBits          int    `yaml:"pow_max_bits"`
	TokenTTLSec         int    `yaml:"token_ttl_sec"`
	SweepIntervalSec    int    `yaml:"sweep_interval_sec"`
	KeyRotationGraceSec int    `yaml:"key_rotation_grace_sec"`
}

type WAFConfig struct {
	RulesPath string `yaml:"rules_path"`
}

type WasmHostConfig struct {
	RuntimeBinary          string `yaml:"runtime_binary"`
	ModuleDir              string `yaml:"module_dir"`
	FuelLimit              uint64 `yaml:"fuel_limit"`
	MemoryLimitPages       uint32 `yaml:"memory_limit_pages"`
	WallClockLimitMs       int    `yaml:"wall_clock_limit_ms"`
	EdgeFunctionFailClosed bool   `yaml:"edge_function_fail_closed"`
	PoolSizePerModule      int    `yaml:"pool_size_per_module"`
	RegistryGRPCAddr       string `yaml:"registry_grpc_addr"`
}

type CacheConfig struct {
	DefaultTTLSec  int   `yaml:"default_ttl_sec"`
	MaxObjectBytes int64 `yaml:"max_object_bytes"`
}

type OriginProxyConfig struct {
	OriginHost              string `yaml:"origin_host"`
	DialTimeoutMs           int    `yaml:"dial_timeout_ms"`
	ResponseHeaderTimeoutMs int    `yaml:"response_header_timeout_ms"`
	BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
	BreakerCooldownSec      int    `yaml:"breaker_cooldown_sec"`
	BreakerHalfOpenProbes   int    `yaml:"breaker_half_open_probes"`
}

type ThreatBusConfig struct {
	ChannelThreatIntel string   `yaml:"channel_threat_intel"`
	ChannelCounterOps  string   `yaml:"channel_counter_ops"`
	BootstrapPeers     []string `yaml:"bootstrap_peers"`
	PublishQueueDepth  int      `yaml:"publish_queue_depth"`
	PublishRatePerSec  int      `yaml:"publish_rate_per_sec"`
	TrustedIssuerKeys  []string `yaml:"trusted_issuer_keys_hex"`
}

type CRDTConfig struct {
	EpochWindowSec      int     `yaml:"epoch_window_sec"`
	SuspicionThreshold  int     `yaml:"suspicion_violation_threshold"`
	MaxSkewToleranceSec int     `yaml:"max_skew_tolerance_sec"`
	GossipFanout        int     `yaml:"gossip_fanout"`
	MinPeerQuorum       float64 `yaml:"min_peer_quorum"`
}

type MetricsAggConfig struct {
	PostgresDSN      string `yaml:"postgres_dsn"`
	WindowSec        int    `yaml:"window_sec"`
	SigningSeedHex   string `yaml:"signing_seed_hex"`
	RetentionDays    int    `yaml:"retention_days"`
}

type RegistryConfig struct {
	GRPCAddr   string `yaml:"grpc_addr"`
	CacheTTLMs int    `yaml:"cache_ttl_ms"`
}

var (
	current  atomic.Pointer[Config]
	once     sync.Once
	loadPath string
)

// Get returns the current singleton config, loading it on first use from
// CONFIG_PATH (default "config.yaml").
func Get() *Config {
	once.Do(func() {
		loadPath = getEnv("CONFIG_PATH", "config.yaml")
		cfg, err := LoadConfig(loadPath)
		if err != nil {
			slog.Warn("config: failed to load file, using defaults", "path", loadPath, "error", err)
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		cfg.applyDefaults()
		current.Store(cfg)
	})
	return current.Load()
}

// Reload re-reads the config file from disk and atomically swaps the
// singleton. Existing holders of the old *Config keep seeing a valid,
// internally-consistent snapshot.
func Reload() (*Config, error) {
	path := loadPath
	if path == "" {
		path = getEnv("CONFIG_PATH", "config.yaml")
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("config: reload failed: %w", err)
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	current.Store(cfg)
	slog.Info("config: reloaded", "path", path)
	return cfg, nil
}

// LoadConfig parses a YAML config file, rejecting unknown fields so typos in
// a module config don't silently no-op.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	decoder.SetStrict(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Node.ID = getEnv("AEGIS_NODE_ID", c.Node.ID)
	c.Node.Cluster = getEnv("AEGIS_CLUSTER", c.Node.Cluster)
	c.Node.TrustDomain = getEnv("AEGIS_TRUST_DOMAIN", c.Node.TrustDomain)

	c.Server.Port = getEnv("AEGIS_PORT", c.Server.Port)
	c.Server.Env = getEnv("AEGIS_ENV", c.Server.Env)
	c.Server.Interface = getEnv("AEGIS_INTERFACE", c.Server.Interface)

	c.Redis.Addr = getEnv("AEGIS_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("AEGIS_REDIS_PASSWORD", c.Redis.Password)
	if v := getEnvInt("AEGIS_REDIS_DB", -1); v >= 0 {
		c.Redis.DB = v
	}

	c.DropOracle.ObjectPath = getEnv("AEGIS_DROP_ORACLE_OBJECT", c.DropOracle.ObjectPath)

	c.BotClassify.PatternsPath = getEnv("AEGIS_BOT_PATTERNS_PATH", c.BotClassify.PatternsPath)

	c.Challenge.SigningSeedHex = getEnv("AEGIS_CHALLENGE_SEED", c.Challenge.SigningSeedHex)

	c.WAF.RulesPath = getEnv("AEGIS_WAF_RULES_PATH", c.WAF.RulesPath)

	c.WasmHost.RuntimeBinary = getEnv("AEGIS_WASM_RUNTIME_BIN", c.WasmHost.RuntimeBinary)
	c.WasmHost.ModuleDir = getEnv("AEGIS_WASM_MODULE_DIR", c.WasmHost.ModuleDir)
	c.WasmHost.RegistryGRPCAddr = getEnv("AEGIS_MODULE_REGISTRY_ADDR", c.WasmHost.RegistryGRPCAddr)

	c.MetricsAgg.PostgresDSN = getEnv("AEGIS_METRICS_DSN", c.MetricsAgg.PostgresDSN)
	c.MetricsAgg.SigningSeedHex = getEnv("AEGIS_METRICS_SEED", c.MetricsAgg.SigningSeedHex)

	c.Registry.GRPCAddr = getEnv("AEGIS_REGISTRY_ADDR", c.Registry.GRPCAddr)
	c.OriginProxy.OriginHost = getEnv("AEGIS_ORIGIN_HOST", c.OriginProxy.OriginHost)

	if peers := getEnv("AEGIS_BOOTSTRAP_PEERS", ""); peers != "" {
		c.ThreatBus.BootstrapPeers = splitCSV(peers)
	}
}

func (c *Config) applyDefaults() {
	if c.Node.ID == "" {
		c.Node.ID = "aegis-local"
	}
	if c.Node.Cluster == "" {
		c.Node.Cluster = "default"
	}
	if c.Node.TrustDomain == "" {
		c.Node.TrustDomain = "aegis"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8443"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownSec == 0 {
		c.Server.ShutdownSec = 30
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.DropOracle.PollIntervalMs == 0 {
		c.DropOracle.PollIntervalMs = 250
	}
	if c.TLSFP.MaxClientHelloBytes == 0 {
		c.TLSFP.MaxClientHelloBytes = 16384
	}
	if c.BotClassify.RateWindowSec == 0 {
		c.BotClassify.RateWindowSec = 60
	}
	if c.BotClassify.RateMaxRequests == 0 {
		c.BotClassify.RateMaxRequests = 300
	}
	if c.BotClassify.SuspiciousCRDTMin == 0 {
		c.BotClassify.SuspiciousCRDTMin = 0.4
	}
	if c.BotClassify.VerdictCacheSize == 0 {
		c.BotClassify.VerdictCacheSize = 100_000
	}
	if c.Challenge.PowBaseBits == 0 {
		c.Challenge.PowBaseBits = 18
	}
	if c.Challenge.PowMaxBits == 0 {
		c.Challenge.PowMaxBits = 24
	}
	if c.Challenge.TokenTTLSec == 0 {
		c.Challenge.TokenTTLSec = 900
	}
	if c.Challenge.SweepIntervalSec == 0 {
		c.Challenge.SweepIntervalSec = 10
	}
	if c.Challenge.KeyRotationGraceSec == 0 {
		c.Challenge.KeyRotationGraceSec = 3600
	}
	if c.WasmHost.RuntimeBinary == "" {
		c.WasmHost.RuntimeBinary = "wasmtime"
	}
	if c.WasmHost.FuelLimit == 0 {
		c.WasmHost.FuelLimit = 10_000_000
	}
	if c.WasmHost.MemoryLimitPages == 0 {
		c.WasmHost.MemoryLimitPages = 256 // 16MiB
	}
	if c.WasmHost.WallClockLimitMs == 0 {
		c.WasmHost.WallClockLimitMs = 50
	}
	if !c.WasmHost.EdgeFunctionFailClosed {
		c.WasmHost.EdgeFunctionFailClosed = true
	}
	if c.WasmHost.PoolSizePerModule == 0 {
		c.WasmHost.PoolSizePerModule = 8
	}
	if c.Cache.DefaultTTLSec == 0 {
		c.Cache.DefaultTTLSec = 300
	}
	if c.Cache.MaxObjectBytes == 0 {
		c.Cache.MaxObjectBytes = 10 << 20
	}
	if c.OriginProxy.OriginHost == "" {
		c.OriginProxy.OriginHost = "origin.internal:443"
	}
	if c.OriginProxy.DialTimeoutMs == 0 {
		c.OriginProxy.DialTimeoutMs = 2000
	}
	if c.OriginProxy.ResponseHeaderTimeoutMs == 0 {
		c.OriginProxy.ResponseHeaderTimeoutMs = 5000
	}
	if c.OriginProxy.BreakerFailureThreshold == 0 {
		c.OriginProxy.BreakerFailureThreshold = 5
	}
	if c.OriginProxy.BreakerCooldownSec == 0 {
		c.OriginProxy.BreakerCooldownSec = 30
	}
	if c.OriginProxy.BreakerHalfOpenProbes == 0 {
		c.OriginProxy.BreakerHalfOpenProbes = 1
	}
	if c.ThreatBus.ChannelThreatIntel == "" {
		c.ThreatBus.ChannelThreatIntel = "threat-intel/v1"
	}
	if c.ThreatBus.ChannelCounterOps == "" {
		c.ThreatBus.ChannelCounterOps = "counter-ops/v1"
	}
	if c.ThreatBus.PublishQueueDepth == 0 {
		c.ThreatBus.PublishQueueDepth = 1024
	}
	if c.ThreatBus.PublishRatePerSec == 0 {
		c.ThreatBus.PublishRatePerSec = 50
	}
	if c.CRDT.EpochWindowSec == 0 {
		c.CRDT.EpochWindowSec = 60
	}
	if c.CRDT.SuspicionThreshold == 0 {
		c.CRDT.SuspicionThreshold = 5
	}
	if c.CRDT.MaxSkewToleranceSec == 0 {
		c.CRDT.MaxSkewToleranceSec = 5
	}
	if c.CRDT.GossipFanout == 0 {
		c.CRDT.GossipFanout = 3
	}
	if c.CRDT.MinPeerQuorum == 0 {
		c.CRDT.MinPeerQuorum = 0.51
	}
	if c.MetricsAgg.WindowSec == 0 {
		c.MetricsAgg.WindowSec = 60
	}
	if c.MetricsAgg.RetentionDays == 0 {
		c.MetricsAgg.RetentionDays = 90
	}
	if c.Registry.CacheTTLMs == 0 {
		c.Registry.CacheTTLMs = 60_000
	}
}

func (c *Config) IsProduction() bool  { return c.Server.Env == "production" }
func (c *Config) IsDevelopment() bool { return c.Server.Env != "production" }

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
