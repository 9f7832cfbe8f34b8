package lib

import (
	"encoding/binary"
	"fmt"
)

// Segment is one transport unit carried by the network layer
type Segment struct {
	SrcPort uint16
	DstPort uint16
	Type    SegmentType
	Window  uint32 // free receive space advertised by the sender
	Seq     uint32 // sequence number, or the acknowledged byte for ACK
	Payload []byte // DATA only
}

// Len returns the encoded size of the segment
func (s *Segment) Len() int {
	return SegmentHeaderLength + len(s.Payload)
}

// Marshal encodes the segment into buffer and returns the number of bytes used
func (s *Segment) Marshal(buffer []byte) (int, error) {
	if s.Type > DATA {
		return 0, fmt.Errorf("marshal %d: %w", s.Type, errUnknownType)
	}
	if s.Type != DATA && len(s.Payload) > 0 {
		return 0, fmt.Errorf("marshal %s: %w", s.Type, errUnexpectedData)
	}
	if len(buffer) < s.Len() {
		return 0, fmt.Errorf("buffer length(%d) is shorter than segment length(%d)", len(buffer), s.Len())
	}

	binary.BigEndian.PutUint16(buffer[0:2], s.SrcPort)
	binary.BigEndian.PutUint16(buffer[2:4], s.DstPort)
	buffer[4] = byte(s.Type)
	binary.BigEndian.PutUint32(buffer[5:9], s.Window)
	binary.BigEndian.PutUint32(buffer[9:13], s.Seq)
	copy(buffer[SegmentHeaderLength:], s.Payload)

	return s.Len(), nil
}

// Unmarshal decodes data into the segment. Payload aliases data.
func (s *Segment) Unmarshal(data []byte, mss int) error {
	if len(data) < SegmentHeaderLength {
		return fmt.Errorf("the length(%d) of data is too short to be unmarshalled: %w", len(data), errShortSegment)
	}

	typ := SegmentType(data[4])
	if typ > DATA {
		return fmt.Errorf("type %d: %w", data[4], errUnknownType)
	}
	payload := data[SegmentHeaderLength:]
	if len(payload) > mss {
		return fmt.Errorf("payload length(%d): %w", len(payload), errPayloadTooLong)
	}
	if typ != DATA && len(payload) > 0 {
		return fmt.Errorf("%s with %d bytes: %w", typ, len(payload), errUnexpectedData)
	}

	s.SrcPort = binary.BigEndian.Uint16(data[0:2])
	s.DstPort = binary.BigEndian.Uint16(data[2:4])
	s.Type = typ
	s.Window = binary.BigEndian.Uint32(data[5:9])
	s.Seq = binary.BigEndian.Uint32(data[9:13])
	if len(payload) > 0 {
		s.Payload = payload
	} else {
		s.Payload = nil
	}
	return nil
}

func (s *Segment) String() string {
	return fmt.Sprintf("%s %d->%d seq=%d win=%d len=%d", s.Type, s.SrcPort, s.DstPort, s.Seq, s.Window, len(s.Payload))
}
