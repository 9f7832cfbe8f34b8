package lib

import (
	"io"
	"net/netip"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type sentSegment struct {
	src, dst netip.Addr
	raw      []byte
	seg      Segment
}

// fakeNetwork records every segment instead of delivering it
type fakeNetwork struct {
	t    *testing.T
	now  time.Time
	isn  uint32
	sent []sentSegment
}

func (f *fakeNetwork) SendSegment(src, dst netip.Addr, protocol uint8, segment []byte) error {
	raw := append([]byte(nil), segment...)
	var seg Segment
	if err := seg.Unmarshal(raw, DefaultMSS); err != nil {
		f.t.Fatalf("node sent an undecodable segment: %v", err)
	}
	f.sent = append(f.sent, sentSegment{src: src, dst: dst, raw: raw, seg: seg})
	return nil
}

func (f *fakeNetwork) Now() time.Time { return f.now }

func (f *fakeNetwork) InitialSeq(ConnID) uint32 { return f.isn }

// take returns and forgets everything sent so far
func (f *fakeNetwork) take() []sentSegment {
	sent := f.sent
	f.sent = nil
	return sent
}

type scheduledEvent struct {
	delay time.Duration
	ev    TimerEvent
}

type fakeTimers struct {
	events []scheduledEvent
}

func (f *fakeTimers) ScheduleAfter(delay time.Duration, ev TimerEvent) {
	f.events = append(f.events, scheduledEvent{delay: delay, ev: ev})
}

func (f *fakeTimers) take() []scheduledEvent {
	events := f.events
	f.events = nil
	return events
}

func (f *fakeTimers) takeKind(kind TimerKind) []scheduledEvent {
	var matched, rest []scheduledEvent
	for _, e := range f.events {
		if e.ev.Kind == kind {
			matched = append(matched, e)
		} else {
			rest = append(rest, e)
		}
	}
	f.events = rest
	return matched
}

type testNode struct {
	*Node
	net    *fakeNetwork
	timers *fakeTimers
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestNode(t *testing.T, addr string, isn uint32, config *NodeConfig) *testNode {
	t.Helper()
	network := &fakeNetwork{t: t, now: time.Unix(1000, 0), isn: isn}
	timers := &fakeTimers{}
	if config == nil {
		config = DefaultNodeConfig()
	}
	n := NewNode(netip.MustParseAddr(addr), network, timers, config, quietLogger())
	return &testNode{Node: n, net: network, timers: timers}
}

// deliver feeds segments to the node they are addressed to
func deliver(to *testNode, segs ...sentSegment) {
	for _, s := range segs {
		to.OnSegmentArrived(s.src, s.dst, s.raw)
	}
}

// exchange passes segments back and forth until both nodes are quiet
func exchange(a, b *testNode) {
	for len(a.net.sent) > 0 || len(b.net.sent) > 0 {
		deliver(b, a.net.take()...)
		deliver(a, b.net.take()...)
	}
}

func ofType(segs []sentSegment, typ SegmentType) []sentSegment {
	var out []sentSegment
	for _, s := range segs {
		if s.seg.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

// connectPair sets up server:80 listening and returns an established client
// and the accepted server side.
func connectPair(t *testing.T, server, client *testNode) (*Connection, *Connection, *Connection) {
	t.Helper()
	listener, err := server.Socket()
	if err != nil {
		t.Fatalf("server socket: %v", err)
	}
	if err := listener.Bind(80); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := listener.Listen(4); err != nil {
		t.Fatalf("listen: %v", err)
	}

	conn, err := client.Socket()
	if err != nil {
		t.Fatalf("client socket: %v", err)
	}
	if err := conn.Bind(0); err != nil {
		t.Fatalf("client bind: %v", err)
	}
	if err := conn.Connect(server.Addr(), 80); err != nil {
		t.Fatalf("connect: %v", err)
	}
	exchange(client, server)

	if !conn.IsConnected() {
		t.Fatalf("client state %s, want ESTABLISHED", conn.State())
	}
	accepted, err := listener.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	client.timers.take()
	server.timers.take()
	return listener, accepted, conn
}
