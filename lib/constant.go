package lib

import "time"

// SegmentType is the one-byte type field of a segment header
type SegmentType uint8

// Segment types as carried on the wire
const (
	SYN  SegmentType = 0
	ACK  SegmentType = 1
	FIN  SegmentType = 2
	DATA SegmentType = 3
)

const (
	SegmentHeaderLength = 13 // src port(2) + dst port(2) + type(1) + window(4) + seq(4)
	DefaultMSS          = 107

	DefaultBufferSize = 16384 // usable bytes; the ring holds one more
)

const (
	DefaultInitialRTO       = 1000 * time.Millisecond
	DefaultMinRTO           = 50 * time.Millisecond
	DefaultMaxRTO           = 30000 * time.Millisecond
	DefaultSynRetryInterval = 1000 * time.Millisecond

	DefaultInitialCwnd     = 1.0
	DefaultInitialSsthresh = 16384.0
	DefaultDupAckThreshold = 3

	DefaultMaxConnections = 8
	DefaultProtocolID     = 253 // RFC 3692 experimental

	DefaultEphemeralPortLower = 49152
	DefaultEphemeralPortUpper = 65535
)

func (t SegmentType) String() string {
	switch t {
	case SYN:
		return "SYN"
	case ACK:
		return "ACK"
	case FIN:
		return "FIN"
	case DATA:
		return "DATA"
	default:
		return "UNKNOWN"
	}
}
