package lib

// NodeStats counts segments seen by a node
type NodeStats struct {
	SegmentsSent     uint64
	SegmentsReceived uint64
	SendErrors       uint64 // network refused a segment
	ParseErrors      uint64 // malformed input dropped
	Unmatched        uint64 // no connection for the segment
	SynRejected      uint64 // backlog full or table full
	ConnRefused      uint64 // our SYN answered with FIN
}

// ConnStats counts per-connection protocol activity
type ConnStats struct {
	DataSent        uint64 // DATA segments, including retransmissions
	BytesSent       uint64
	Retransmitted   uint64 // DATA segments below the highest transmitted byte
	Timeouts        uint64
	FastRetransmits uint64
	BytesAcked      uint64
	DupAcks         uint64
	InvalidAcks     uint64 // acknowledging bytes never sent
	RttSamples      uint64
	SynRetries      uint64

	DataReceived  uint64
	BytesReceived uint64
	OutOfOrder    uint64
	AcksSent      uint64
}
