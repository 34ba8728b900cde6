// Package agentbus is a local multi-agent orchestration core: a typed
// in-process message bus, an agent lifecycle layer, a coordinator that
// routes user queries to capable agents and a tool executor that runs
// registered tools on their behalf. The Manager type ties them together
// behind a single facade.
package agentbus

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentbus-dev/agentbus/agents"
	"github.com/agentbus-dev/agentbus/observability"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "5m".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// BusConfig tunes the message bus.
type BusConfig struct {
	QueueCapacity int `yaml:"queue_capacity"`
	HistorySize   int `yaml:"history_size"`
}

// CoordinatorConfig tunes the coordinator agent.
type CoordinatorConfig struct {
	DelegationTimeout     Duration `yaml:"delegation_timeout"`
	HealthCheckInterval   Duration `yaml:"health_check_interval"`
	InactivityThreshold   Duration `yaml:"inactivity_threshold"`
	CleanupInterval       Duration `yaml:"cleanup_interval"`
	ConversationRetention Duration `yaml:"conversation_retention"`
}

func (c CoordinatorConfig) runtime() agents.CoordinatorConfig {
	return agents.CoordinatorConfig{
		DelegationTimeout:     c.DelegationTimeout.Std(),
		HealthCheckInterval:   c.HealthCheckInterval.Std(),
		InactivityThreshold:   c.InactivityThreshold.Std(),
		CleanupInterval:       c.CleanupInterval.Std(),
		ConversationRetention: c.ConversationRetention.Std(),
	}
}

// ToolExecutorConfig tunes the tool executor agent.
type ToolExecutorConfig struct {
	DefaultTimeout   Duration `yaml:"default_timeout"`
	RefreshInterval  Duration `yaml:"refresh_interval"`
	ExecutionLogSize int      `yaml:"execution_log_size"`
}

func (c ToolExecutorConfig) runtime() agents.ToolExecConfig {
	return agents.ToolExecConfig{
		DefaultTimeout:   c.DefaultTimeout.Std(),
		RefreshInterval:  c.RefreshInterval.Std(),
		ExecutionLogSize: c.ExecutionLogSize,
	}
}

// ManagerConfig tunes the manager facade.
type ManagerConfig struct {
	// QueryRateLimit caps queries per second. Zero disables limiting.
	QueryRateLimit float64 `yaml:"query_rate_limit"`
	QueryBurst     int     `yaml:"query_burst"`
}

// ModelConfig selects the language-model backend for synthesis.
type ModelConfig struct {
	// Provider is "openai" or "none".
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Name     string `yaml:"name"`
}

// ObservabilityConfig tunes metrics and tracing.
type ObservabilityConfig struct {
	// Port serves /metrics, /health and /status. Zero disables the
	// server.
	Port int `yaml:"port"`
	// TracingExporter is "stdout" or "none".
	TracingExporter string `yaml:"tracing_exporter"`
}

// Config is the full configuration of the system.
type Config struct {
	Bus           BusConfig           `yaml:"bus"`
	Coordinator   CoordinatorConfig   `yaml:"coordinator"`
	ToolExecutor  ToolExecutorConfig  `yaml:"tool_executor"`
	Manager       ManagerConfig       `yaml:"manager"`
	Model         ModelConfig         `yaml:"model"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Bus: BusConfig{
			QueueCapacity: 256,
			HistorySize:   1000,
		},
		Coordinator: CoordinatorConfig{
			DelegationTimeout:     Duration(30 * time.Second),
			HealthCheckInterval:   Duration(60 * time.Second),
			InactivityThreshold:   Duration(5 * time.Minute),
			CleanupInterval:       Duration(5 * time.Minute),
			ConversationRetention: Duration(time.Hour),
		},
		ToolExecutor: ToolExecutorConfig{
			DefaultTimeout:   Duration(30 * time.Second),
			RefreshInterval:  Duration(60 * time.Second),
			ExecutionLogSize: 1000,
		},
		Model: ModelConfig{
			Provider: "none",
		},
		Observability: ObservabilityConfig{
			TracingExporter: "none",
		},
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Bus.QueueCapacity <= 0 {
		c.Bus.QueueCapacity = def.Bus.QueueCapacity
	}
	if c.Bus.HistorySize <= 0 {
		c.Bus.HistorySize = def.Bus.HistorySize
	}
	if c.Model.Provider == "" {
		c.Model.Provider = def.Model.Provider
	}
	// Agent configs default per field inside the agents package.
}

// LoadConfig reads a YAML config file on top of the defaults. An empty
// path returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Run starts the full system and blocks until ctx is canceled, then
// shuts everything down.
func Run(ctx context.Context, cfg Config, opts ...ManagerOption) error {
	observability.InitMetrics()
	if err := observability.InitTracing(observability.TracingConfig{
		Enabled:      cfg.Observability.TracingExporter != "" && cfg.Observability.TracingExporter != "none",
		ExporterType: cfg.Observability.TracingExporter,
	}); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	m, err := NewManager(cfg, opts...)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	var obs *observability.Server
	if cfg.Observability.Port > 0 {
		obs = observability.NewServer(cfg.Observability.Port, func() any {
			return m.SystemStatus()
		})
		go func() {
			if err := obs.Start(); err != nil {
				log.Printf("observability server: %v", err)
			}
		}()
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if obs != nil {
		if err := obs.Shutdown(shutdownCtx); err != nil {
			log.Printf("observability shutdown: %v", err)
		}
	}
	if err := m.Stop(shutdownCtx); err != nil {
		log.Printf("manager shutdown: %v", err)
	}
	return observability.ShutdownTracing(shutdownCtx)
}
