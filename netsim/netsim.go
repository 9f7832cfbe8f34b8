// Package netsim is a deterministic discrete-event network for driving
// protocol nodes. All nodes, timers and application callbacks run on the
// caller's goroutine in virtual time.
package netsim

import (
	"fmt"
	"math/rand"
	"net/netip"
	"time"

	"github.com/Clouded-Sabre/Fishnet-TCP/lib"
	"github.com/google/btree"
	"github.com/sirupsen/logrus"
)

// Config describes the simulated links. Every pair of nodes shares the same
// latency and loss rate.
type Config struct {
	Latency  time.Duration
	LossRate float64
	Seed     int64
}

// DropFunc decides whether a transmitted segment is lost. It runs before
// the random loss.
type DropFunc func(src, dst netip.Addr, segment []byte) bool

// Stats counts what happened to transmitted segments
type Stats struct {
	Sent          uint64
	Delivered     uint64
	Dropped       uint64
	Undeliverable uint64 // no node at the destination address
}

type event struct {
	at   time.Time
	seq  uint64
	fire func()
}

func eventLess(a, b event) bool {
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	return a.seq < b.seq
}

type Simulator struct {
	now      time.Time
	queue    *btree.BTreeG[event]
	nextSeq  uint64
	rng      *rand.Rand
	latency  time.Duration
	lossRate float64
	drop     DropFunc
	hosts    map[netip.Addr]*host
	trace    *Trace
	stats    Stats
	logger   *logrus.Logger
	log      *logrus.Entry
}

func New(config Config, logger *logrus.Logger) *Simulator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Simulator{
		now:      time.Unix(0, 0).UTC(),
		queue:    btree.NewG(16, eventLess),
		rng:      rand.New(rand.NewSource(config.Seed)),
		latency:  config.Latency,
		lossRate: config.LossRate,
		hosts:    make(map[netip.Addr]*host),
		logger:   logger,
		log:      logger.WithField("component", "netsim"),
	}
}

func (s *Simulator) Now() time.Time { return s.now }
func (s *Simulator) Stats() Stats   { return s.stats }

// SetDropFunc installs a deterministic loss rule
func (s *Simulator) SetDropFunc(fn DropFunc) { s.drop = fn }

// SetTrace records every transmitted segment, lost or not, into t
func (s *Simulator) SetTrace(t *Trace) { s.trace = t }

// AddNode attaches a new protocol node at addr
func (s *Simulator) AddNode(addr netip.Addr, config *lib.NodeConfig) (*lib.Node, error) {
	if _, ok := s.hosts[addr]; ok {
		return nil, fmt.Errorf("address %s already in use", addr)
	}
	h := &host{sim: s, addr: addr}
	h.node = lib.NewNode(addr, h, h, config, s.logger)
	s.hosts[addr] = h
	return h.node, nil
}

// After runs fn once, delay from now
func (s *Simulator) After(delay time.Duration, fn func()) {
	s.schedule(delay, fn)
}

// Every runs fn each interval for as long as it returns true
func (s *Simulator) Every(interval time.Duration, fn func() bool) {
	s.schedule(interval, func() {
		if fn() {
			s.Every(interval, fn)
		}
	})
}

// Step fires the earliest pending event. It reports false when none is left.
func (s *Simulator) Step() bool {
	e, ok := s.queue.DeleteMin()
	if !ok {
		return false
	}
	s.now = e.at
	e.fire()
	return true
}

// RunFor fires every event due within d and advances the clock by d
func (s *Simulator) RunFor(d time.Duration) {
	end := s.now.Add(d)
	for {
		e, ok := s.queue.Min()
		if !ok || e.at.After(end) {
			break
		}
		s.Step()
	}
	s.now = end
}

// RunUntil fires events until cond holds or limit of virtual time passes.
// It reports whether cond was met.
func (s *Simulator) RunUntil(cond func() bool, limit time.Duration) bool {
	end := s.now.Add(limit)
	for !cond() {
		e, ok := s.queue.Min()
		if !ok || e.at.After(end) {
			s.now = end
			return cond()
		}
		s.Step()
	}
	return true
}

func (s *Simulator) schedule(delay time.Duration, fn func()) {
	if delay < 0 {
		delay = 0
	}
	s.queue.ReplaceOrInsert(event{at: s.now.Add(delay), seq: s.nextSeq, fire: fn})
	s.nextSeq++
}

func (s *Simulator) transmit(src, dst netip.Addr, protocol uint8, segment []byte) {
	s.stats.Sent++
	if s.trace != nil {
		if err := s.trace.WriteSegment(s.now, src, dst, protocol, segment); err != nil {
			s.log.WithError(err).Warn("Failed to write trace")
		}
	}

	if (s.drop != nil && s.drop(src, dst, segment)) || (s.lossRate > 0 && s.rng.Float64() < s.lossRate) {
		s.stats.Dropped++
		s.log.Debugf("Dropped segment %s->%s (%d bytes)", src, dst, len(segment))
		return
	}

	to, ok := s.hosts[dst]
	if !ok {
		s.stats.Undeliverable++
		return
	}
	data := append([]byte(nil), segment...)
	s.schedule(s.latency, func() {
		s.stats.Delivered++
		to.node.OnSegmentArrived(src, dst, data)
	})
}

// host binds one node to the simulator. It is the node's Network and
// TimerService.
type host struct {
	sim  *Simulator
	addr netip.Addr
	node *lib.Node
}

func (h *host) SendSegment(src, dst netip.Addr, protocol uint8, segment []byte) error {
	h.sim.transmit(src, dst, protocol, segment)
	return nil
}

func (h *host) Now() time.Time { return h.sim.now }

func (h *host) InitialSeq(lib.ConnID) uint32 {
	return uint32(h.sim.rng.Int31())
}

func (h *host) ScheduleAfter(delay time.Duration, ev lib.TimerEvent) {
	h.sim.schedule(delay, func() { h.node.OnTimer(ev) })
}
