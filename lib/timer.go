package lib

import (
	"fmt"
	"time"
)

// TimerKind tags the two one-shot timers a connection can arm
type TimerKind uint8

const (
	TimerSynRetry   TimerKind = iota // re-send SYN while connecting
	TimerRetransmit                  // retransmission timeout for the byte at Seq
)

// TimerEvent is handed to the TimerService and given back to Node.OnTimer
// when it fires. Timers are never cancelled; a firing that no longer applies
// is ignored.
type TimerEvent struct {
	Kind TimerKind
	Conn *Connection
	Seq  uint32
}

func (e TimerEvent) String() string {
	switch e.Kind {
	case TimerSynRetry:
		return "SynRetry"
	case TimerRetransmit:
		return fmt.Sprintf("Retransmit(%d)", e.Seq)
	default:
		return "Unknown"
	}
}

// TimerService schedules timer events. Implementations must deliver the event
// through Node.OnTimer on the goroutine that drives the node.
type TimerService interface {
	ScheduleAfter(delay time.Duration, ev TimerEvent)
}
