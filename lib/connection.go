package lib

import (
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"
)

// ConnState is the state of a connection
type ConnState uint8

const (
	StateNew ConnState = iota
	StateListen
	StateSynSent
	StateEstablished
	StateShutdown // close requested or peer finished, data still in flight
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateEstablished:
		return "ESTABLISHED"
	case StateShutdown:
		return "SHUTDOWN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Connection is a non-blocking stream socket. Its methods must be called on
// the goroutine that drives the owning Node.
type Connection struct {
	node      *Node
	slot      int
	id        ConnID
	state     ConnState
	ephemeral bool // local port came from the port pool
	released  bool
	passive   bool // spawned by a listener
	log       *logrus.Entry

	// listener
	pending []*Connection
	backlog int

	// send side: sndBase <= sndNext <= sndTop, sndNext <= sndBuf.Tail()
	sndBuf     *RingBuffer
	sndBase    uint32
	sndNext    uint32
	sndTop     uint32
	finPending bool // FIN deferred until all written bytes are acknowledged
	rtPending  int  // retransmit timers armed since the last new ACK
	rtExpired  int
	rtt        *RttEstimator
	cc         *CongestionControl

	// receive side: rcvNext = rcvBuf.Head(), rcvBase = rcvBuf.Tail()
	rcvBuf     *RingBuffer
	rcvInitSeq uint32
	peerClosed bool

	stats ConnStats
}

func newConnection(n *Node, slot int) *Connection {
	return &Connection{
		node:  n,
		slot:  slot,
		state: StateNew,
		rtt:   NewRttEstimator(n.config),
		cc:    NewCongestionControl(n.config),
		log:   n.log,
	}
}

func (c *Connection) setID(id ConnID) {
	c.id = id
	c.log = c.node.log.WithField("conn", id.String())
}

func (c *Connection) ID() ConnID       { return c.id }
func (c *Connection) State() ConnState { return c.state }
func (c *Connection) Stats() ConnStats { return c.stats }

func (c *Connection) IsConnectionPending() bool { return c.state == StateSynSent }
func (c *Connection) IsConnected() bool         { return c.state == StateEstablished }
func (c *Connection) IsClosurePending() bool    { return c.state == StateShutdown }
func (c *Connection) IsClosed() bool            { return c.state == StateClosed }

// Bind assigns the local port. Port 0 picks a free ephemeral port.
func (c *Connection) Bind(port uint16) error {
	if c.released {
		return ErrReleased
	}
	if c.id.LocalPort != 0 {
		return ErrAlreadyBound
	}
	if c.state != StateNew {
		return fmt.Errorf("bind in %s: %w", c.state, ErrInvalidState)
	}

	reg := c.node.registry
	ephemeral := false
	if port == 0 {
		p, err := reg.allocatePort()
		if err != nil {
			return err
		}
		port, ephemeral = p, true
	} else if reg.portInUse(port, c) {
		return fmt.Errorf("bind %d: %w", port, ErrPortInUse)
	}

	c.ephemeral = ephemeral
	c.setID(ConnID{LocalAddr: c.node.addr, LocalPort: port})
	return nil
}

// Listen turns a bound connection into a listener that queues up to backlog
// established connections for Accept.
func (c *Connection) Listen(backlog int) error {
	if c.released {
		return ErrReleased
	}
	if c.state != StateNew {
		return fmt.Errorf("listen in %s: %w", c.state, ErrInvalidState)
	}
	if c.id.LocalPort == 0 {
		return ErrNotBound
	}
	c.backlog = max(backlog, 0)
	c.pending = make([]*Connection, 0, c.backlog)
	c.state = StateListen
	c.log.Infof("Listening with backlog %d", c.backlog)
	return nil
}

// Accept dequeues the oldest established connection. It returns
// ErrWouldBlock when none is waiting.
func (c *Connection) Accept() (*Connection, error) {
	if c.state != StateListen {
		return nil, ErrNotListening
	}
	if len(c.pending) == 0 {
		return nil, ErrWouldBlock
	}
	child := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	return child, nil
}

// Connect starts an active open towards addr:port
func (c *Connection) Connect(addr netip.Addr, port uint16) error {
	if c.released {
		return ErrReleased
	}
	if c.state != StateNew {
		return fmt.Errorf("connect in %s: %w", c.state, ErrInvalidState)
	}
	if c.id.LocalPort == 0 {
		return ErrNotBound
	}

	id := c.id
	id.RemoteAddr = addr
	id.RemotePort = port
	if c.node.registry.Lookup(id) != nil {
		return fmt.Errorf("connect %s: %w", id, ErrPortInUse)
	}
	c.setID(id)

	isn := c.node.network.InitialSeq(id)
	size := c.node.config.BufferSize
	c.sndBuf = NewRingBuffer(size, isn)
	c.rcvBuf = NewRingBuffer(size, isn+1)
	c.sndBase = isn
	c.sndNext = isn
	c.sndTop = isn + 1
	c.state = StateSynSent

	c.log.Infof("Connecting with isn %d", isn)
	c.sendSyn(false)
	return nil
}

// Write queues as much of p as the send buffer can hold and transmits what
// the window allows. A short count means the buffer is full.
func (c *Connection) Write(p []byte) (int, error) {
	if c.released {
		return 0, ErrReleased
	}
	if c.state != StateEstablished || c.sndBuf == nil {
		return 0, ErrNotConnected
	}
	n := c.sndBuf.Write(p)
	c.transmit()
	return n, nil
}

// Read copies delivered bytes into p. It returns 0 when nothing is ready and
// io.EOF once the peer has finished and every byte has been read.
func (c *Connection) Read(p []byte) (int, error) {
	if c.released {
		return 0, ErrReleased
	}
	if c.state == StateClosed && c.peerClosed {
		return 0, io.EOF
	}
	if (c.state != StateEstablished && c.state != StateShutdown) || c.rcvBuf == nil {
		return 0, ErrNotConnected
	}

	n := c.rcvBuf.Read(p)
	if c.state == StateShutdown && c.peerClosed && c.rcvBuf.Len() == 0 {
		c.state = StateClosed
		c.log.Info("Peer finished and all data read, connection closed")
	}
	return n, nil
}

// Close starts a graceful close. With unacknowledged data the connection
// moves to SHUTDOWN and sends FIN once everything is acknowledged.
func (c *Connection) Close() error {
	if c.released {
		return ErrReleased
	}
	switch c.state {
	case StateListen:
		for _, child := range c.pending {
			child.Release()
		}
		c.pending = nil
		c.state = StateClosed
	case StateEstablished:
		if c.sndBase == c.sndBuf.Tail() {
			c.sendFin()
			c.state = StateClosed
		} else {
			c.finPending = true
			c.state = StateShutdown
		}
	case StateShutdown:
	default:
		c.state = StateClosed
	}
	c.log.Infof("Close requested, now %s", c.state)
	return nil
}

// Release closes the connection, sends any deferred FIN right away and
// returns the connection's slot to the node.
func (c *Connection) Release() {
	if c.released {
		return
	}
	c.Close()
	if c.state == StateShutdown {
		if c.finPending {
			c.sendFin()
		}
		c.state = StateClosed
	}
	c.node.registry.release(c)
	c.released = true
	c.log.Info("Connection released")
}

// ConnInfo is a snapshot of a connection's protocol state
type ConnInfo struct {
	ID         ConnID
	State      ConnState
	SndBase    uint32
	SndNext    uint32
	SndTop     uint32
	SndWritten uint32
	RcvNext    uint32
	RcvBase    uint32
	RcvWindow  uint32
	Window     uint32 // effective send window
	Cwnd       float64
	Ssthresh   float64
	RTO        time.Duration
	SRTT       time.Duration
	RTTVar     time.Duration
	Pending    int
	Stats      ConnStats
}

func (c *Connection) Info() ConnInfo {
	info := ConnInfo{
		ID:       c.id,
		State:    c.state,
		SndBase:  c.sndBase,
		SndNext:  c.sndNext,
		SndTop:   c.sndTop,
		Window:   c.cc.EffectiveWindow(),
		Cwnd:     c.cc.Cwnd(),
		Ssthresh: c.cc.Ssthresh(),
		RTO:      c.rtt.RTO(),
		SRTT:     c.rtt.Estimate(),
		RTTVar:   c.rtt.Deviation(),
		Pending:  len(c.pending),
		Stats:    c.stats,
	}
	if c.sndBuf != nil {
		info.SndWritten = c.sndBuf.Tail()
	}
	if c.rcvBuf != nil {
		info.RcvNext = c.rcvBuf.Head()
		info.RcvBase = c.rcvBuf.Tail()
		info.RcvWindow = c.receiveWindow()
	}
	return info
}
