package lib

import (
	"net/netip"
	"time"

	rp "github.com/Clouded-Sabre/ringpool/lib"
	"github.com/sirupsen/logrus"
)

// Network is the unreliable packet layer a node sends through
type Network interface {
	// SendSegment hands an encoded segment to the network. The segment is
	// only valid for the duration of the call.
	SendSegment(src, dst netip.Addr, protocol uint8, segment []byte) error
	Now() time.Time
	InitialSeq(id ConnID) uint32
}

// Node is the per-host protocol context. It owns the connection table and is
// not safe for concurrent use: every call, including OnSegmentArrived and
// OnTimer, must come from the goroutine driving the node.
type Node struct {
	addr     netip.Addr
	config   *NodeConfig
	network  Network
	timers   TimerService
	registry *Registry
	pool     *rp.RingPool
	scratch  []byte
	stats    NodeStats
	log      *logrus.Entry
}

// NewNode creates a node at addr. A nil logger uses the logrus standard logger.
func NewNode(addr netip.Addr, network Network, timers TimerService, config *NodeConfig, logger *logrus.Logger) *Node {
	if config == nil {
		config = DefaultNodeConfig()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Node{
		addr:     addr,
		config:   config,
		network:  network,
		timers:   timers,
		registry: newRegistry(config),
		pool:     newSegmentPool(config),
		scratch:  make([]byte, config.MSS),
		log:      logger.WithField("node", addr.String()),
	}
}

func (n *Node) Addr() netip.Addr      { return n.addr }
func (n *Node) Config() *NodeConfig   { return n.config }
func (n *Node) Stats() NodeStats      { return n.stats }
func (n *Node) Registry() *Registry   { return n.registry }
func (n *Node) Logger() *logrus.Entry { return n.log }

// Socket allocates a new connection in state NEW
func (n *Node) Socket() (*Connection, error) {
	c, err := n.registry.allocate(n)
	if err != nil {
		n.log.WithError(err).Warn("Socket allocation failed")
		return nil, err
	}
	return c, nil
}

// OnSegmentArrived decodes raw and routes it to the owning connection.
// Malformed or unmatched segments are dropped silently.
func (n *Node) OnSegmentArrived(src, dst netip.Addr, raw []byte) {
	n.stats.SegmentsReceived++

	var seg Segment
	if err := seg.Unmarshal(raw, n.config.MSS); err != nil {
		n.stats.ParseErrors++
		n.log.WithError(err).Debugf("Dropped malformed segment from %s", src)
		return
	}
	if dst != n.addr {
		n.stats.Unmatched++
		n.log.Debugf("Dropped %s addressed to %s", &seg, dst)
		return
	}

	id := ConnID{LocalAddr: n.addr, LocalPort: seg.DstPort, RemoteAddr: src, RemotePort: seg.SrcPort}
	c := n.registry.Lookup(id)
	if c == nil && seg.Type == SYN && !n.registry.held(id) {
		c = n.registry.LookupListening(n.addr, seg.DstPort)
	}
	if c == nil {
		n.stats.Unmatched++
		n.log.Debugf("No connection for %s from %s", &seg, src)
		return
	}
	c.handleSegment(src, &seg)
}

// OnTimer dispatches a fired timer event
func (n *Node) OnTimer(ev TimerEvent) {
	c := ev.Conn
	if c == nil || c.node != n || c.released {
		return
	}
	switch ev.Kind {
	case TimerSynRetry:
		c.sendSyn(true)
	case TimerRetransmit:
		c.retransmit(ev.Seq)
	default:
		n.log.Warnf("Unknown timer event %d", ev.Kind)
	}
}

func (n *Node) now() time.Time {
	return n.network.Now()
}

func (n *Node) schedule(delay time.Duration, ev TimerEvent) {
	n.timers.ScheduleAfter(delay, ev)
}

// send encodes seg into a pooled chunk and passes it to the network
func (n *Node) send(id ConnID, seg *Segment) {
	seg.SrcPort = id.LocalPort
	seg.DstPort = id.RemotePort

	el := n.pool.GetElement()
	defer n.pool.ReturnElement(el)
	payload := el.Data.(*Payload)
	if err := payload.Encode(seg); err != nil {
		n.log.WithError(err).Warn("Failed to encode segment")
		return
	}
	buf := payload.GetSlice()

	n.stats.SegmentsSent++
	if err := n.network.SendSegment(id.LocalAddr, id.RemoteAddr, n.config.ProtocolID, buf); err != nil {
		n.stats.SendErrors++
		n.log.WithError(err).Warnf("Failed to send %s to %s", seg, id.RemoteAddr)
	}
}
