// Package rawip runs a protocol node over raw IPv4 sockets. Segments travel
// as the payload of IP datagrams carrying the node's protocol number.
package rawip

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/netip"
	"time"

	"github.com/Clouded-Sabre/Fishnet-TCP/lib"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"
)

var ErrHostClosed = errors.New("host closed")

// packetConn is the part of ipv4.PacketConn the host uses
type packetConn interface {
	ReadFrom(b []byte) (int, *ipv4.ControlMessage, net.Addr, error)
	WriteTo(b []byte, cm *ipv4.ControlMessage, dst net.Addr) (int, error)
	Close() error
}

// Options tune a Host beyond the node configuration
type Options struct {
	LossRate  float64 // drop this share of outgoing segments
	Seed      int64   // loss generator seed, 0 picks one from the clock
	QueueSize int     // pending events before the reader blocks
}

type Stats struct {
	Received     uint64
	Sent         uint64
	Dropped      uint64 // by simulated loss
	ReadErrors   uint64
	WriteErrors  uint64
	UnknownAddrs uint64 // datagrams from a non-IPv4 source
}

// Host owns a node and serializes everything that touches it on a single
// event loop: inbound datagrams, timer expiry and Do/Every callbacks.
type Host struct {
	addr     netip.Addr
	conn     packetConn
	node     *lib.Node
	events   chan func()
	done     chan struct{}
	rng      *rand.Rand
	lossRate float64
	stats    Stats
	log      *logrus.Entry
}

// Listen opens a raw IPv4 socket for config.ProtocolID on addr and returns a
// host around it. Raw sockets usually need root or CAP_NET_RAW.
func Listen(addr netip.Addr, config *lib.NodeConfig, opts Options, logger *logrus.Logger) (*Host, error) {
	if config == nil {
		config = lib.DefaultNodeConfig()
	}
	if !addr.Is4() {
		return nil, fmt.Errorf("raw transport supports IPv4 only, got %s", addr)
	}
	c, err := net.ListenPacket(fmt.Sprintf("ip4:%d", config.ProtocolID), addr.String())
	if err != nil {
		return nil, err
	}
	pc := ipv4.NewPacketConn(c)
	if err := pc.SetControlMessage(ipv4.FlagDst, true); err != nil {
		c.Close()
		return nil, fmt.Errorf("enable destination control message: %w", err)
	}
	return newHost(pc, addr, config, opts, logger), nil
}

func newHost(conn packetConn, addr netip.Addr, config *lib.NodeConfig, opts Options, logger *logrus.Logger) *Host {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	h := &Host{
		addr:     addr,
		conn:     conn,
		events:   make(chan func(), opts.QueueSize),
		done:     make(chan struct{}),
		rng:      rand.New(rand.NewSource(seed)),
		lossRate: opts.LossRate,
		log:      logger.WithField("host", addr.String()),
	}
	h.node = lib.NewNode(addr, h, h, config, logger)
	return h
}

func (h *Host) Addr() netip.Addr { return h.addr }

// Stats must be read from the event loop, for example inside Do.
func (h *Host) Stats() Stats { return h.stats }

// Run drives the host until ctx is cancelled or the socket fails. It closes
// the socket on return.
func (h *Host) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		close(h.done)
		return h.conn.Close()
	})
	g.Go(func() error { return h.readLoop(ctx) })
	g.Go(func() error { return h.eventLoop(ctx) })

	h.log.Info("Host running")
	err := g.Wait()
	h.log.Info("Host stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (h *Host) eventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-h.events:
			fn()
		}
	}
}

func (h *Host) readLoop(ctx context.Context) error {
	buf := make([]byte, 65536)
	for {
		n, cm, from, err := h.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			h.post(func() { h.stats.ReadErrors++ })
			h.log.WithError(err).Warn("Error reading datagram")
			continue
		}

		src, ok := addrOf(from)
		if !ok {
			h.post(func() { h.stats.UnknownAddrs++ })
			continue
		}
		dst := h.addr
		if cm != nil && cm.Dst != nil {
			if a, ok := netip.AddrFromSlice(cm.Dst.To4()); ok {
				dst = a
			}
		}
		data := append([]byte(nil), buf[:n]...)
		if !h.post(func() {
			h.stats.Received++
			h.node.OnSegmentArrived(src, dst, data)
		}) {
			return nil
		}
	}
}

func addrOf(a net.Addr) (netip.Addr, bool) {
	ip, ok := a.(*net.IPAddr)
	if !ok {
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(ip.IP.To4())
	return addr, ok
}

// post queues fn on the event loop. It reports false once the host stopped.
func (h *Host) post(fn func()) bool {
	select {
	case h.events <- fn:
		return true
	case <-h.done:
		return false
	}
}

// Do runs fn with the node on the event loop and waits for it to return.
// Run must be active.
func (h *Host) Do(fn func(n *lib.Node)) error {
	finished := make(chan struct{})
	if !h.post(func() {
		defer close(finished)
		fn(h.node)
	}) {
		return ErrHostClosed
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrHostClosed
	}
}

// Every runs fn on the event loop each interval until it returns false or
// the host stops.
func (h *Host) Every(interval time.Duration, fn func() bool) {
	stop := make(chan struct{})
	stopped := false // only touched on the event loop
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-h.done:
				return
			case <-ticker.C:
				h.post(func() {
					if stopped {
						return
					}
					if !fn() {
						stopped = true
						close(stop)
					}
				})
			}
		}
	}()
}

// SendSegment implements lib.Network. It runs on the event loop.
func (h *Host) SendSegment(src, dst netip.Addr, protocol uint8, segment []byte) error {
	if h.lossRate > 0 && h.rng.Float64() < h.lossRate {
		h.stats.Dropped++
		h.log.Debugf("Segment to %s lost (%d bytes)", dst, len(segment))
		return nil
	}
	if _, err := h.conn.WriteTo(segment, nil, &net.IPAddr{IP: net.IP(dst.AsSlice())}); err != nil {
		h.stats.WriteErrors++
		return err
	}
	h.stats.Sent++
	return nil
}

func (h *Host) Now() time.Time { return time.Now() }

func (h *Host) InitialSeq(id lib.ConnID) uint32 {
	isn, err := lib.GenerateISN()
	if err != nil {
		h.log.WithError(err).Warnf("Falling back to weak ISN for %s", id)
		return uint32(h.rng.Int31())
	}
	return isn
}

// ScheduleAfter implements lib.TimerService on top of the runtime timers
func (h *Host) ScheduleAfter(delay time.Duration, ev lib.TimerEvent) {
	time.AfterFunc(delay, func() {
		h.post(func() { h.node.OnTimer(ev) })
	})
}
