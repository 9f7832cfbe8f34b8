package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Clouded-Sabre/Fishnet-TCP/lib"
	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// NetConfig holds the settings of the network the node runs on
type NetConfig struct {
	LogLevel  string  `yaml:"log_level"`  // logrus level name
	LossRate  float64 `yaml:"loss_rate"`  // probability of dropping an outgoing segment
	LatencyMs int     `yaml:"latency_ms"` // one-way delay of the simulated network
	Seed      int64   `yaml:"seed"`       // seed of the simulated network
	PcapPath  string  `yaml:"pcap_path"`  // capture transmitted segments when set
}

func DefaultNetConfig() *NetConfig {
	return &NetConfig{
		LogLevel:  "info",
		LossRate:  0,
		LatencyMs: 10,
		Seed:      1,
	}
}

func (n *NetConfig) Latency() time.Duration {
	return time.Duration(n.LatencyMs) * time.Millisecond
}

// NewLogger returns a logrus logger at the configured level
func (n *NetConfig) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(n.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger, nil
}

// ReconnectConfig controls how a client retries a connection attempt that
// was refused or timed out.
type ReconnectConfig struct {
	MaxRetries        int     `yaml:"max_retries"` // -1 retries forever
	InitialBackoffMs  int     `yaml:"initial_backoff_ms"`
	MaxBackoffMs      int     `yaml:"max_backoff_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	ConnectTimeoutMs  int     `yaml:"connect_timeout_ms"` // per attempt
}

func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxRetries:        5,
		InitialBackoffMs:  500,
		MaxBackoffMs:      10000,
		BackoffMultiplier: 1.5,
		ConnectTimeoutMs:  5000,
	}
}

func (r *ReconnectConfig) ConnectTimeout() time.Duration {
	return time.Duration(r.ConnectTimeoutMs) * time.Millisecond
}

// NewBackOff builds the retry schedule. The returned policy is single use.
func (r *ReconnectConfig) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(r.InitialBackoffMs) * time.Millisecond
	b.MaxInterval = time.Duration(r.MaxBackoffMs) * time.Millisecond
	b.Multiplier = r.BackoffMultiplier
	b.MaxElapsedTime = 0
	b.Reset()
	if r.MaxRetries < 0 {
		return b
	}
	return backoff.WithMaxRetries(b, uint64(r.MaxRetries))
}

func (r *ReconnectConfig) validate() error {
	switch {
	case r.InitialBackoffMs < 1 || r.MaxBackoffMs < r.InitialBackoffMs:
		return fmt.Errorf("backoff bounds [%d, %d] invalid", r.InitialBackoffMs, r.MaxBackoffMs)
	case r.BackoffMultiplier < 1:
		return fmt.Errorf("backoff_multiplier %v below 1", r.BackoffMultiplier)
	case r.ConnectTimeoutMs < 1:
		return fmt.Errorf("connect_timeout_ms must be positive")
	}
	return nil
}

// Config is the content of a configuration file
type Config struct {
	Node      *lib.NodeConfig
	Net       *NetConfig
	Reconnect *ReconnectConfig
}

func DefaultConfig() *Config {
	return &Config{
		Node:      lib.DefaultNodeConfig(),
		Net:       DefaultNetConfig(),
		Reconnect: DefaultReconnectConfig(),
	}
}

// nodeSection is the YAML form of lib.NodeConfig
type nodeSection struct {
	ProtocolID      int     `yaml:"protocol_id"`
	MSS             int     `yaml:"mss"`
	BufferSize      int     `yaml:"buffer_size"`
	MaxConnections  int     `yaml:"max_connections"`
	InitialRTOMs    int     `yaml:"initial_rto_ms"`
	MinRTOMs        int     `yaml:"min_rto_ms"`
	MaxRTOMs        int     `yaml:"max_rto_ms"`
	SynRetryMs      int     `yaml:"syn_retry_ms"`
	InitialCwnd     float64 `yaml:"initial_cwnd"`
	InitialSsthresh float64 `yaml:"initial_ssthresh"`
	DupAckThreshold int     `yaml:"dup_ack_threshold"`
	EphemeralLower  int     `yaml:"ephemeral_port_lower"`
	EphemeralUpper  int     `yaml:"ephemeral_port_upper"`
	PayloadPoolSize int     `yaml:"payload_pool_size"`
	PoolDebug       bool    `yaml:"pool_debug"`
}

type fileConfig struct {
	Node      nodeSection     `yaml:"node"`
	Net       NetConfig       `yaml:"net"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

func fromNodeConfig(c *lib.NodeConfig) nodeSection {
	return nodeSection{
		ProtocolID:      int(c.ProtocolID),
		MSS:             c.MSS,
		BufferSize:      c.BufferSize,
		MaxConnections:  c.MaxConnections,
		InitialRTOMs:    int(c.InitialRTO / time.Millisecond),
		MinRTOMs:        int(c.MinRTO / time.Millisecond),
		MaxRTOMs:        int(c.MaxRTO / time.Millisecond),
		SynRetryMs:      int(c.SynRetryInterval / time.Millisecond),
		InitialCwnd:     c.InitialCwnd,
		InitialSsthresh: c.InitialSsthresh,
		DupAckThreshold: c.DupAckThreshold,
		EphemeralLower:  int(c.EphemeralLower),
		EphemeralUpper:  int(c.EphemeralUpper),
		PayloadPoolSize: c.PayloadPoolSize,
		PoolDebug:       c.PoolDebug,
	}
}

func (s nodeSection) toNodeConfig() (*lib.NodeConfig, error) {
	switch {
	case s.ProtocolID < 1 || s.ProtocolID > 255:
		return nil, fmt.Errorf("protocol_id %d out of range", s.ProtocolID)
	case s.MSS < 1 || s.MSS > 65535-lib.SegmentHeaderLength:
		return nil, fmt.Errorf("mss %d out of range", s.MSS)
	case s.BufferSize < s.MSS:
		return nil, fmt.Errorf("buffer_size %d smaller than mss", s.BufferSize)
	case s.MaxConnections < 1:
		return nil, fmt.Errorf("max_connections must be positive")
	case s.MinRTOMs < 1 || s.MinRTOMs > s.MaxRTOMs:
		return nil, fmt.Errorf("rto bounds [%d, %d] invalid", s.MinRTOMs, s.MaxRTOMs)
	case s.InitialRTOMs < s.MinRTOMs || s.InitialRTOMs > s.MaxRTOMs:
		return nil, fmt.Errorf("initial_rto_ms %d outside [%d, %d]", s.InitialRTOMs, s.MinRTOMs, s.MaxRTOMs)
	case s.SynRetryMs < 1:
		return nil, fmt.Errorf("syn_retry_ms must be positive")
	case s.EphemeralLower < 1 || s.EphemeralLower > s.EphemeralUpper || s.EphemeralUpper > 65535:
		return nil, fmt.Errorf("ephemeral range [%d, %d] invalid", s.EphemeralLower, s.EphemeralUpper)
	case s.InitialCwnd < 1 || s.DupAckThreshold < 1 || s.PayloadPoolSize < 1:
		return nil, fmt.Errorf("initial_cwnd, dup_ack_threshold and payload_pool_size must be positive")
	}

	return &lib.NodeConfig{
		ProtocolID:       uint8(s.ProtocolID),
		MSS:              s.MSS,
		BufferSize:       s.BufferSize,
		MaxConnections:   s.MaxConnections,
		InitialRTO:       time.Duration(s.InitialRTOMs) * time.Millisecond,
		MinRTO:           time.Duration(s.MinRTOMs) * time.Millisecond,
		MaxRTO:           time.Duration(s.MaxRTOMs) * time.Millisecond,
		SynRetryInterval: time.Duration(s.SynRetryMs) * time.Millisecond,
		InitialCwnd:      s.InitialCwnd,
		InitialSsthresh:  s.InitialSsthresh,
		DupAckThreshold:  s.DupAckThreshold,
		EphemeralLower:   uint16(s.EphemeralLower),
		EphemeralUpper:   uint16(s.EphemeralUpper),
		PayloadPoolSize:  s.PayloadPoolSize,
		PoolDebug:        s.PoolDebug,
	}, nil
}

// Parse reads YAML configuration from data. Keys missing from data keep
// their default values.
func Parse(data []byte) (*Config, error) {
	fc := fileConfig{
		Node:      fromNodeConfig(lib.DefaultNodeConfig()),
		Net:       *DefaultNetConfig(),
		Reconnect: *DefaultReconnectConfig(),
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	nodeConfig, err := fc.Node.toNodeConfig()
	if err != nil {
		return nil, fmt.Errorf("node config: %w", err)
	}
	if fc.Net.LossRate < 0 || fc.Net.LossRate > 1 {
		return nil, fmt.Errorf("net config: loss_rate %v out of [0, 1]", fc.Net.LossRate)
	}
	if _, err := logrus.ParseLevel(fc.Net.LogLevel); err != nil {
		return nil, fmt.Errorf("net config: %w", err)
	}
	if err := fc.Reconnect.validate(); err != nil {
		return nil, fmt.Errorf("reconnect config: %w", err)
	}
	return &Config{Node: nodeConfig, Net: &fc.Net, Reconnect: &fc.Reconnect}, nil
}

// LoadConfig reads the YAML file at path. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
