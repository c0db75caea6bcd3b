package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const (
	EnvBackends   = "VLLM_BACKENDS"
	EnvListenAddr = "GATEWAY_LISTEN_ADDR"
	EnvConfigPath = "GATEWAY_CONFIG"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:default} patterns in a string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		submatch := envVarPattern.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}
		varName := submatch[1]
		defaultVal := ""
		if len(submatch) >= 3 {
			defaultVal = submatch[2]
		}
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return defaultVal
	})
}

// LoadFile reads a YAML file, expands env vars, and unmarshals into dest.
func LoadFile(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), dest); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays the environment inputs on top of the file configuration.
// VLLM_BACKENDS replaces the backends section entirely when set.
func applyEnv(cfg *Config) error {
	if raw, ok := os.LookupEnv(EnvBackends); ok {
		backends, err := ParseBackends(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBackends, err)
		}
		cfg.Backends = backends
	}
	if addr := os.Getenv(EnvListenAddr); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	return nil
}

// Validate checks the assembled configuration. Any error here is fatal at startup.
func (c *Config) Validate() error {
	if err := ValidateBackends(c.Backends); err != nil {
		return err
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must not be empty")
	}
	if c.Routing.MaxLineBytes <= 0 {
		return fmt.Errorf("routing.max_line_bytes must be positive, got %d", c.Routing.MaxLineBytes)
	}
	if c.Routing.CircuitBreaker.FailureThreshold < 0 {
		return fmt.Errorf("routing.circuit_breaker.failure_threshold must not be negative")
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}
	if _, err := c.Telemetry.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses the configured log level.
func (t TelemetryConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(t.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("telemetry.log_level: %w", err)
	}
	return level, nil
}

// Loader assembles configuration from an optional YAML file and the environment, and
// reloads it when the file changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	cfg      *Config
	watchers []func()
	logger   *slog.Logger
}

// NewLoader returns a loader for the YAML file at path. An empty path means the
// configuration comes from defaults and the environment only.
func NewLoader(path string, logger *slog.Logger) *Loader {
	if path != "" {
		path = filepath.Clean(path)
	}
	return &Loader{
		path:   path,
		logger: logger,
	}
}

func (l *Loader) Load() error {
	cfg := DefaultConfig()
	if l.path != "" {
		if err := LoadFile(l.path, cfg); err != nil {
			return fmt.Errorf("load gateway config: %w", err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()

	l.logger.Info("configuration loaded", "file", l.path, "backends", len(cfg.Backends))
	return nil
}

func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// OnReload registers a callback that fires after config is reloaded.
func (l *Loader) OnReload(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watchers = append(l.watchers, fn)
}

// Watch reloads the configuration whenever the config file is written or replaced,
// until ctx is cancelled. The parent directory is watched so that editors that
// save via rename are picked up.
func (l *Loader) Watch(ctx context.Context) error {
	if l.path == "" {
		return fmt.Errorf("no config file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != l.path {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					l.logger.Info("config file changed, reloading", "file", event.Name)
					if err := l.Load(); err != nil {
						l.logger.Error("failed to reload config, keeping previous", "error", err)
						continue
					}
					l.mu.RLock()
					callbacks := append([]func(){}, l.watchers...)
					l.mu.RUnlock()
					for _, fn := range callbacks {
						fn()
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error("fsnotify error", "error", err)
			}
		}
	}()

	return nil
}
