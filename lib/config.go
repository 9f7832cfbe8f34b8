package lib

import "time"

// NodeConfig holds the tunables of one protocol node
type NodeConfig struct {
	ProtocolID       uint8         // IP protocol number used by raw transports and pcap traces
	MSS              int           // maximum payload bytes per DATA segment
	BufferSize       int           // usable bytes of each send/receive buffer
	MaxConnections   int           // connection table capacity
	InitialRTO       time.Duration // RTO before the first sample
	MinRTO           time.Duration
	MaxRTO           time.Duration
	SynRetryInterval time.Duration // SYN re-send period while connecting
	InitialCwnd      float64       // in segments
	InitialSsthresh  float64       // in segments
	DupAckThreshold  int           // duplicate ACKs that trigger fast retransmit
	EphemeralLower   uint16        // ephemeral port range used by Bind(0)
	EphemeralUpper   uint16
	PayloadPoolSize  int  // chunks in the outbound segment pool
	PoolDebug        bool // turn on ring pool footprint debugging
}

func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		ProtocolID:       DefaultProtocolID,
		MSS:              DefaultMSS,
		BufferSize:       DefaultBufferSize,
		MaxConnections:   DefaultMaxConnections,
		InitialRTO:       DefaultInitialRTO,
		MinRTO:           DefaultMinRTO,
		MaxRTO:           DefaultMaxRTO,
		SynRetryInterval: DefaultSynRetryInterval,
		InitialCwnd:      DefaultInitialCwnd,
		InitialSsthresh:  DefaultInitialSsthresh,
		DupAckThreshold:  DefaultDupAckThreshold,
		EphemeralLower:   DefaultEphemeralPortLower,
		EphemeralUpper:   DefaultEphemeralPortUpper,
		PayloadPoolSize:  16,
		PoolDebug:        false,
	}
}
