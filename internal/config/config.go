package config

import "time"

const (
	DefaultListenAddr   = "0.0.0.0:3000"
	DefaultMaxLineBytes = 1024 * 1024
)

type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Backends  map[string]string `yaml:"backends"`
	Routing   RoutingConfig     `yaml:"routing"`
	Redis     RedisConfig       `yaml:"redis"`
	RateLimit RateLimitConfig   `yaml:"rate_limit"`
	Telemetry TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig configures the inbound listener. WriteTimeout bounds the whole response,
// including the stream, so it defaults to 0 (no limit).
type ServerConfig struct {
	ListenAddr       string        `yaml:"listen_addr"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type RoutingConfig struct {
	ConnectTimeout        time.Duration        `yaml:"connect_timeout"`
	ResponseHeaderTimeout time.Duration        `yaml:"response_header_timeout"`
	MaxIdleConnsPerHost   int                  `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout       time.Duration        `yaml:"idle_conn_timeout"`
	MaxLineBytes          int                  `yaml:"max_line_bytes"`
	CircuitBreaker        CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig is disabled when FailureThreshold is 0.
type CircuitBreakerConfig struct {
	FailureThreshold      int           `yaml:"failure_threshold"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

// RateLimitConfig is disabled when RequestsPerMinute is 0.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPath string `yaml:"metrics_path"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:       DefaultListenAddr,
			ReadTimeout:      30 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Routing: RoutingConfig{
			ConnectTimeout:        10 * time.Second,
			ResponseHeaderTimeout: 5 * time.Minute,
			MaxIdleConnsPerHost:   64,
			IdleConnTimeout:       90 * time.Second,
			MaxLineBytes:          DefaultMaxLineBytes,
			CircuitBreaker: CircuitBreakerConfig{
				RecoveryProbeInterval: 15 * time.Second,
			},
		},
		Redis: RedisConfig{
			PoolSize: 10,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPath: "/metrics",
		},
	}
}
