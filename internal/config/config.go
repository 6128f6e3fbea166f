package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a key is absent.
const (
	DefaultNetworkSymbol  = "BNB"
	DefaultPollInterval   = 2 * time.Second
	DefaultBackoff        = 5 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultRiskThreshold  = 70.0
	DefaultEmitTimeout    = 5 * time.Second
	DefaultMaxInFlight    = 64
)

// Config holds the YAML configuration.
type Config struct {
	Version       int                `yaml:"version"`
	Global        GlobalConfig       `yaml:"global"`
	Chain         ChainConfig        `yaml:"chain"`
	Alerts        AlertsConfig       `yaml:"alerts"`
	Protocols     []Protocol         `yaml:"protocols"`
	Subscriptions []SubscriptionSeed `yaml:"subscriptions"`
	Sinks         []Sink             `yaml:"sinks"`
}

type GlobalConfig struct {
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`
}

type ChainConfig struct {
	RPCURL         string        `yaml:"rpc_url"`
	WSURL          string        `yaml:"ws_url"`
	NetworkSymbol  string        `yaml:"network_symbol"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	Backoff        time.Duration `yaml:"backoff"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ABIDirs        []string      `yaml:"abi_dirs"`
}

type AlertsConfig struct {
	RiskThreshold *float64      `yaml:"risk_threshold"`
	EmitTimeout   time.Duration `yaml:"emit_timeout"`
	MaxInFlight   int64         `yaml:"max_in_flight"`
	Where         []string      `yaml:"where"`
	Dedupe        *Dedupe       `yaml:"dedupe,omitempty"`
	RateLimit     *RateLimit    `yaml:"rate_limit,omitempty"`
	DryRun        bool          `yaml:"dry_run"`
}

// Threshold returns the configured risk threshold.
func (a AlertsConfig) Threshold() float64 {
	if a.RiskThreshold == nil {
		return DefaultRiskThreshold
	}
	return *a.RiskThreshold
}

type Dedupe struct {
	Key string        `yaml:"key"`
	TTL time.Duration `yaml:"ttl"`
}

type RateLimit struct {
	Capacity  float64 `yaml:"capacity"`
	PerSecond float64 `yaml:"per_second"`
}

// Protocol maps contract addresses to a protocol name.
type Protocol struct {
	Name      string   `yaml:"name"`
	Contracts []string `yaml:"contracts"`
}

// SubscriptionSeed subscribes addresses to a protocol at startup.
type SubscriptionSeed struct {
	Protocol  string   `yaml:"protocol"`
	Addresses []string `yaml:"addresses"`
}

type Sink struct {
	ID         string            `yaml:"id"`
	Type       string            `yaml:"type"`
	WebhookURL string            `yaml:"webhook_url"`
	Template   string            `yaml:"template"`
	URL        string            `yaml:"url"`
	Method     string            `yaml:"method"`
	Headers    map[string]string `yaml:"headers"`
	Subject    string            `yaml:"subject"`
	Brokers    []string          `yaml:"brokers"`
	Topic      string            `yaml:"topic"`
	Addr       string            `yaml:"addr"`
	Password   string            `yaml:"password"`
	DB         int               `yaml:"db"`
	Channel    string            `yaml:"channel"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, applies defaults, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

func (c *Config) applyDefaults() {
	if c.Chain.NetworkSymbol == "" {
		c.Chain.NetworkSymbol = DefaultNetworkSymbol
	}
	if c.Chain.PollInterval == 0 {
		c.Chain.PollInterval = DefaultPollInterval
	}
	if c.Chain.Backoff == 0 {
		c.Chain.Backoff = DefaultBackoff
	}
	if c.Chain.RequestTimeout == 0 {
		c.Chain.RequestTimeout = DefaultRequestTimeout
	}
	if c.Alerts.EmitTimeout == 0 {
		c.Alerts.EmitTimeout = DefaultEmitTimeout
	}
	if c.Alerts.MaxInFlight == 0 {
		c.Alerts.MaxInFlight = DefaultMaxInFlight
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []Sink{{ID: "log", Type: "log"}}
	}
}

// Validate performs small, direct schema checks.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if err := c.Chain.Validate(); err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	if err := c.Alerts.Validate(); err != nil {
		return fmt.Errorf("alerts: %w", err)
	}

	protocolNames := map[string]struct{}{}
	contracts := map[string]string{}
	for _, p := range c.Protocols {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			return errors.New("protocol name is required")
		}
		if _, exists := protocolNames[name]; exists {
			return fmt.Errorf("duplicate protocol: %s", p.Name)
		}
		protocolNames[name] = struct{}{}
		for _, addr := range p.Contracts {
			if !common.IsHexAddress(addr) {
				return fmt.Errorf("protocol %s: invalid contract address %q", p.Name, addr)
			}
			lower := strings.ToLower(addr)
			if other, exists := contracts[lower]; exists {
				return fmt.Errorf("contract %s mapped to both %s and %s", addr, other, name)
			}
			contracts[lower] = name
		}
	}

	for _, s := range c.Subscriptions {
		if strings.TrimSpace(s.Protocol) == "" {
			return errors.New("subscription protocol is required")
		}
		for _, addr := range s.Addresses {
			if strings.TrimSpace(addr) == "" {
				return fmt.Errorf("subscription %s: empty address", s.Protocol)
			}
		}
	}

	sinkIDs := map[string]struct{}{}
	for i := range c.Sinks {
		s := &c.Sinks[i]
		if _, exists := sinkIDs[s.ID]; exists {
			return fmt.Errorf("duplicate sink id: %s", s.ID)
		}
		sinkIDs[s.ID] = struct{}{}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("sink %s: %w", s.ID, err)
		}
		if strings.EqualFold(s.Type, "store") && c.Global.DBPath == "" {
			return fmt.Errorf("sink %s: store sink requires global.db_path", s.ID)
		}
	}

	return nil
}

func (c *ChainConfig) Validate() error {
	if c.WSURL != "" && c.RPCURL == "" {
		return errors.New("ws_url requires rpc_url")
	}
	if c.PollInterval < 0 || c.Backoff < 0 || c.RequestTimeout < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

func (a *AlertsConfig) Validate() error {
	if t := a.Threshold(); t < 0 || t > 100 {
		return fmt.Errorf("risk_threshold must be within [0, 100], got %v", t)
	}
	if a.EmitTimeout < 0 {
		return errors.New("emit_timeout must not be negative")
	}
	if a.MaxInFlight < 0 {
		return errors.New("max_in_flight must not be negative")
	}
	if a.Dedupe != nil && a.Dedupe.TTL < 0 {
		return errors.New("dedupe.ttl must not be negative")
	}
	if a.RateLimit != nil && a.RateLimit.PerSecond <= 0 {
		return errors.New("rate_limit.per_second must be greater than zero")
	}
	return nil
}

func (s *Sink) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.Type == "" {
		return errors.New("type is required")
	}

	switch strings.ToLower(s.Type) {
	case "slack", "teams":
		if s.WebhookURL == "" {
			return errors.New("webhook_url is required for slack/teams sinks")
		}
	case "webhook":
		if s.URL == "" {
			return errors.New("url is required for webhook sink")
		}
		if s.Method == "" {
			s.Method = "POST"
		}
	case "nats":
		if s.URL == "" || s.Subject == "" {
			return errors.New("url and subject are required for nats sink")
		}
	case "kafka":
		if len(s.Brokers) == 0 || s.Topic == "" {
			return errors.New("brokers and topic are required for kafka sink")
		}
	case "redis":
		if s.Addr == "" || s.Channel == "" {
			return errors.New("addr and channel are required for redis sink")
		}
	case "store", "log":
	default:
		return fmt.Errorf("unsupported sink type: %s", s.Type)
	}
	return nil
}

// ProtocolContracts maps lowercased contract addresses to protocol names.
func (c *Config) ProtocolContracts() map[string]string {
	out := map[string]string{}
	for _, p := range c.Protocols {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		for _, addr := range p.Contracts {
			out[strings.ToLower(addr)] = name
		}
	}
	return out
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
