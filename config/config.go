// Package config loads the broker configuration from YAML and resolves the
// per-queue policy the topology registry consults.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/CUXIDUMDUM/qpid/store"
	"github.com/CUXIDUMDUM/qpid/topology"
)

// DefaultVirtualHost is created when the configuration names none
const DefaultVirtualHost = "/"

const defaultListenAddr = ":9090"

// Config is the broker configuration
type Config struct {
	DeadLetter   DeadLetterConfig    `yaml:"deadLetter"`
	Tuning       topology.Tuning     `yaml:"tuning"` // broker-wide queue limits
	Store        store.Config        `yaml:"store"`
	VirtualHosts []VirtualHostConfig `yaml:"virtualHosts"`
	Metrics      MetricsConfig       `yaml:"metrics"`
	Log          LogConfig           `yaml:"log"`
}

// DeadLetterConfig names dead-letter topology and sets the broker default
type DeadLetterConfig struct {
	topology.DeadLetterPolicy `yaml:",inline"`
	Enabled                   bool `yaml:"enabled"`
}

// VirtualHostConfig configures one virtual host
type VirtualHostConfig struct {
	Name             string        `yaml:"name"`
	DeadLetterQueues *bool         `yaml:"deadLetterQueues"` // nil inherits the broker default
	Queues           []QueueConfig `yaml:"queues"`
}

// QueueConfig is a queue created at startup, or the policy of a queue
// clients declare later under the same name.
type QueueConfig struct {
	Name             string   `yaml:"name"`
	Durable          bool     `yaml:"durable"`
	AutoDelete       bool     `yaml:"autoDelete"`
	Owner            string   `yaml:"owner"`
	Exchange         string   `yaml:"exchange"`
	RoutingKeys      []string `yaml:"routingKeys"`
	Priority         bool     `yaml:"priority"`
	Priorities       int      `yaml:"priorities"`
	LVQ              bool     `yaml:"lvq"`
	LVQKey           string   `yaml:"lvqKey"`
	DeadLetterQueues *bool    `yaml:"deadLetterQueues"` // nil inherits the virtual host

	topology.Tuning `yaml:",inline"`
}

// MetricsConfig configures the HTTP endpoint of qpidd
type MetricsConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn or error
}

// DefaultConfig returns a broker with one virtual host, a memory store and
// dead-letter provisioning off.
func DefaultConfig() Config {
	return Config{
		DeadLetter:   DeadLetterConfig{DeadLetterPolicy: topology.DefaultDeadLetterPolicy()},
		Store:        store.DefaultConfig(),
		VirtualHosts: []VirtualHostConfig{{Name: DefaultVirtualHost}},
		Metrics:      MetricsConfig{ListenAddr: defaultListenAddr},
		Log:          LogConfig{Level: "info"},
	}
}

// Merge applies non-zero values from source into c. Virtual hosts are
// replaced as a whole.
func (c *Config) Merge(source *Config) {
	if source.DeadLetter.ExchangeSuffix != "" {
		c.DeadLetter.ExchangeSuffix = source.DeadLetter.ExchangeSuffix
	}
	if source.DeadLetter.QueueSuffix != "" {
		c.DeadLetter.QueueSuffix = source.DeadLetter.QueueSuffix
	}
	if source.DeadLetter.Enabled {
		c.DeadLetter.Enabled = true
	}

	c.Tuning = mergeTuning(c.Tuning, source.Tuning)

	if source.Store.Type != "" {
		c.Store.Type = source.Store.Type
	}
	if source.Store.Path != "" {
		c.Store.Path = source.Store.Path
	}
	if source.Store.DSN != "" {
		c.Store.DSN = source.Store.DSN
	}
	if source.Store.Breaker.FailureThreshold > 0 {
		c.Store.Breaker = source.Store.Breaker
	}

	if len(source.VirtualHosts) > 0 {
		c.VirtualHosts = source.VirtualHosts
	}
	if source.Metrics.ListenAddr != "" {
		c.Metrics.ListenAddr = source.Metrics.ListenAddr
	}
	if source.Log.Level != "" {
		c.Log.Level = source.Log.Level
	}
}

// LoadConfig reads a YAML file and merges it over the defaults
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and merges it over the defaults
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	var loaded Config
	if err := yaml.UnmarshalStrict(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the broker cannot start with
func (c *Config) Validate() error {
	if c.DeadLetter.ExchangeSuffix == "" || c.DeadLetter.QueueSuffix == "" {
		return fmt.Errorf("config: dead-letter suffixes must not be empty")
	}
	if c.DeadLetter.ExchangeSuffix == c.DeadLetter.QueueSuffix {
		return fmt.Errorf("config: dead-letter exchange and queue suffixes are both %q", c.DeadLetter.QueueSuffix)
	}

	switch c.Store.Type {
	case store.TypeMemory:
	case store.TypePebble, store.TypeSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("config: store type %s needs a path", c.Store.Type)
		}
	case store.TypePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store type %s needs a dsn", c.Store.Type)
		}
	default:
		return fmt.Errorf("config: unknown store type %q", c.Store.Type)
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, vh := range c.VirtualHosts {
		if vh.Name == "" {
			return fmt.Errorf("config: virtual host without a name")
		}
		if seen[vh.Name] {
			return fmt.Errorf("config: virtual host %q configured twice", vh.Name)
		}
		seen[vh.Name] = true

		queues := make(map[string]bool)
		for _, q := range vh.Queues {
			if q.Name == "" {
				return fmt.Errorf("config: virtual host %q has a queue without a name", vh.Name)
			}
			if queues[q.Name] {
				return fmt.Errorf("config: queue %q configured twice in virtual host %q", q.Name, vh.Name)
			}
			queues[q.Name] = true
		}
	}
	return nil
}

// SlogLevel parses the configured level
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return level, fmt.Errorf("config: invalid log level %q", l.Level)
	}
	return level, nil
}

func (c *Config) virtualHost(name string) (VirtualHostConfig, bool) {
	for _, vh := range c.VirtualHosts {
		if vh.Name == name {
			return vh, true
		}
	}
	return VirtualHostConfig{}, false
}

func (vh VirtualHostConfig) queue(name string) (QueueConfig, bool) {
	for _, q := range vh.Queues {
		if q.Name == name {
			return q, true
		}
	}
	return QueueConfig{}, false
}

// QueueConfiguration resolves a queue's policy: a queue value wins over the
// virtual host value, which wins over the broker default.
func (c *Config) QueueConfiguration(virtualHost, queue string) topology.QueueConfiguration {
	out := topology.QueueConfiguration{
		DeadLetterQueues: c.DeadLetter.Enabled,
		Tuning:           c.Tuning,
	}

	vh, ok := c.virtualHost(virtualHost)
	if !ok {
		return out
	}
	if vh.DeadLetterQueues != nil {
		out.DeadLetterQueues = *vh.DeadLetterQueues
	}

	q, ok := vh.queue(queue)
	if !ok {
		return out
	}
	if q.DeadLetterQueues != nil {
		out.DeadLetterQueues = *q.DeadLetterQueues
	}
	out.Tuning = mergeTuning(out.Tuning, q.Tuning)
	return out
}

// QueueDefinitions returns the queues configured for a virtual host
func (c *Config) QueueDefinitions(virtualHost string) []topology.QueueDefinition {
	vh, ok := c.virtualHost(virtualHost)
	if !ok {
		return nil
	}

	defs := make([]topology.QueueDefinition, 0, len(vh.Queues))
	for _, q := range vh.Queues {
		defs = append(defs, topology.QueueDefinition{
			Name:             q.Name,
			Durable:          q.Durable,
			AutoDelete:       q.AutoDelete,
			Owner:            q.Owner,
			Exchange:         q.Exchange,
			RoutingKeys:      q.RoutingKeys,
			Priority:         q.Priority,
			Priorities:       q.Priorities,
			LVQ:              q.LVQ,
			LVQKey:           q.LVQKey,
			DeadLetterQueues: c.QueueConfiguration(virtualHost, q.Name).DeadLetterQueues,
		})
	}
	return defs
}

// VirtualHostNames returns the configured virtual hosts in order
func (c *Config) VirtualHostNames() []string {
	names := make([]string, 0, len(c.VirtualHosts))
	for _, vh := range c.VirtualHosts {
		names = append(names, vh.Name)
	}
	return names
}

func mergeTuning(base, override topology.Tuning) topology.Tuning {
	if override.MaximumMessageAge != 0 {
		base.MaximumMessageAge = override.MaximumMessageAge
	}
	if override.MaximumMessageSize != 0 {
		base.MaximumMessageSize = override.MaximumMessageSize
	}
	if override.MaximumMessageCount != 0 {
		base.MaximumMessageCount = override.MaximumMessageCount
	}
	if override.MinimumAlertRepeatGap != 0 {
		base.MinimumAlertRepeatGap = override.MinimumAlertRepeatGap
	}
	if override.Capacity != 0 {
		base.Capacity = override.Capacity
	}
	if override.FlowResumeCapacity != 0 {
		base.FlowResumeCapacity = override.FlowResumeCapacity
	}
	return base
}
