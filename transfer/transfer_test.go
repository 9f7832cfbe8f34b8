package transfer

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"io"
	"net/netip"
	"testing"
	"time"

	"github.com/Clouded-Sabre/Fishnet-TCP/lib"
	"github.com/Clouded-Sabre/Fishnet-TCP/netsim"
	"github.com/sirupsen/logrus"
)

const tick = 5 * time.Millisecond

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type scenario struct {
	sim      *netsim.Simulator
	server   *lib.Node
	client   *lib.Node
	listener *lib.Connection
	srv      *Server
}

func newScenario(t *testing.T, loss float64, backlog int) *scenario {
	t.Helper()
	sim := netsim.New(netsim.Config{Latency: 10 * time.Millisecond, LossRate: loss, Seed: 433}, quietLogger())
	server, err := sim.AddNode(netip.MustParseAddr("10.0.0.1"), nil)
	if err != nil {
		t.Fatal(err)
	}
	client, err := sim.AddNode(netip.MustParseAddr("10.0.0.2"), nil)
	if err != nil {
		t.Fatal(err)
	}

	listener, _ := server.Socket()
	if err := listener.Bind(80); err != nil {
		t.Fatal(err)
	}
	if err := listener.Listen(backlog); err != nil {
		t.Fatal(err)
	}
	srv := NewServer(listener, DefaultBufferSize, server.Logger())
	sim.Every(tick, srv.Execute)

	return &scenario{sim: sim, server: server, client: client, listener: listener, srv: srv}
}

func (s *scenario) startClient(t *testing.T, amount int) *Client {
	t.Helper()
	cl, _ := s.startClientConn(t, amount)
	return cl
}

func (s *scenario) startClientConn(t *testing.T, amount int) (*Client, *lib.Connection) {
	t.Helper()
	conn, err := s.client.Socket()
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Bind(0); err != nil {
		t.Fatal(err)
	}
	if err := conn.Connect(s.server.Addr(), 80); err != nil {
		t.Fatal(err)
	}
	cl := NewClient(conn, amount, DefaultBufferSize, s.client.Logger())
	s.sim.Every(tick, cl.Execute)
	return cl, conn
}

// patternDigest is the SHA-256 of the first amount bytes of the stream
func patternDigest(amount int) []byte {
	buf := make([]byte, amount)
	fillPattern(buf, 0)
	sum := sha256.Sum256(buf)
	return sum[:]
}

// checkSendInvariants validates a sender snapshot against the node config
func checkSendInvariants(t *testing.T, info lib.ConnInfo, cfg *lib.NodeConfig) {
	t.Helper()
	if info.SndBase > info.SndNext || info.SndNext > info.SndTop {
		t.Fatalf("send pointers out of order: base %d next %d top %d", info.SndBase, info.SndNext, info.SndTop)
	}
	if info.State == lib.StateEstablished && info.SndTop > info.SndWritten {
		t.Fatalf("sent beyond written data: top %d written %d", info.SndTop, info.SndWritten)
	}
	if info.Cwnd < 1 {
		t.Fatalf("cwnd %v below one segment", info.Cwnd)
	}
	if info.RTO < cfg.MinRTO || info.RTO > cfg.MaxRTO {
		t.Fatalf("rto %v outside [%v, %v]", info.RTO, cfg.MinRTO, cfg.MaxRTO)
	}
	if info.Window < 1 {
		t.Fatalf("effective window %d", info.Window)
	}
}

func TestTransferLossless(t *testing.T) {
	s := newScenario(t, 0, 4)
	cl := s.startClient(t, 20000)

	done := s.sim.RunUntil(func() bool {
		w := s.srv.Workers()
		return cl.Done() && len(w) == 1 && w[0].Done()
	}, time.Minute)
	if !done {
		t.Fatalf("transfer did not finish: sent %d", cl.Sent())
	}
	if cl.Err() != nil {
		t.Errorf("client: %v", cl.Err())
	}
	w := s.srv.Workers()[0]
	if w.Err() != nil || w.Received() != 20000 {
		t.Errorf("worker received %d bytes, err %v", w.Received(), w.Err())
	}
	if want := patternDigest(20000); !bytes.Equal(cl.Digest(), want) || !bytes.Equal(w.Digest(), want) {
		t.Errorf("stream digests differ: client %x, worker %x, want %x", cl.Digest(), w.Digest(), want)
	}
	if n := s.server.Registry().Len(); n != 1 {
		t.Errorf("server holds %d connections after the transfer, want only the listener", n)
	}
	if stats := s.sim.Stats(); stats.Dropped != 0 {
		t.Errorf("lossless network dropped %d segments", stats.Dropped)
	}
}

func TestTransferUnderLoss(t *testing.T) {
	const amount = 100000
	s := newScenario(t, 0.1, 4)
	cl, conn := s.startClientConn(t, amount)
	cfg := s.client.Config()
	samples := 0
	s.sim.Every(time.Millisecond, func() bool {
		if conn.IsConnected() || conn.IsClosurePending() {
			checkSendInvariants(t, conn.Info(), cfg)
			samples++
		}
		return !cl.Done()
	})

	received := func() int {
		if w := s.srv.Workers(); len(w) == 1 {
			return w[0].Received()
		}
		return 0
	}
	done := s.sim.RunUntil(func() bool {
		return cl.Done() && received() == amount
	}, time.Hour)
	if !done {
		t.Fatalf("transfer stalled: client sent %d, server received %d", cl.Sent(), received())
	}
	if cl.Err() != nil {
		t.Errorf("client: %v", cl.Err())
	}
	w := s.srv.Workers()[0]
	if err := w.Err(); err != nil {
		t.Errorf("worker: %v", err)
	}
	if !bytes.Equal(w.Digest(), cl.Digest()) {
		t.Errorf("worker digest %x, client digest %x", w.Digest(), cl.Digest())
	}
	if stats := s.sim.Stats(); stats.Dropped == 0 {
		t.Errorf("no segment was dropped at 10%% loss")
	}
	if samples == 0 {
		t.Errorf("sender state never sampled")
	}
	if got := conn.Stats().BytesAcked; got != amount {
		t.Errorf("BytesAcked = %d, want %d", got, amount)
	}
}

func TestBacklogOverflowRefusesThirdClient(t *testing.T) {
	s := newScenario(t, 0, 2)
	// stop accepting so the pending queue fills up
	s.srv.Shutdown()

	listener, _ := s.server.Socket()
	listener.Bind(81)
	listener.Listen(2)

	var conns []*lib.Connection
	for range 3 {
		c, _ := s.client.Socket()
		c.Bind(0)
		c.Connect(s.server.Addr(), 81)
		conns = append(conns, c)
	}
	s.sim.RunFor(time.Second)

	if !conns[0].IsConnected() || !conns[1].IsConnected() {
		t.Errorf("first two clients: %s, %s", conns[0].State(), conns[1].State())
	}
	if !conns[2].IsClosed() {
		t.Errorf("third client %s, want CLOSED", conns[2].State())
	}
	if got := s.server.Stats().SynRejected; got != 1 {
		t.Errorf("SynRejected = %d", got)
	}
	if got := listener.Info().Pending; got != 2 {
		t.Errorf("pending = %d", got)
	}
}

func TestWorkerDetectsCorruption(t *testing.T) {
	s := newScenario(t, 0, 4)
	conn, _ := s.client.Socket()
	conn.Bind(0)
	conn.Connect(s.server.Addr(), 80)
	s.sim.RunUntil(conn.IsConnected, time.Second)

	conn.Write([]byte{0, 1, 2, 9})
	ok := s.sim.RunUntil(func() bool {
		w := s.srv.Workers()
		return len(w) == 1 && w[0].Done()
	}, time.Second)
	if !ok {
		t.Fatalf("worker did not stop")
	}
	if err := s.srv.Workers()[0].Err(); !errors.Is(err, ErrCorrupted) {
		t.Errorf("worker error %v, want ErrCorrupted", err)
	}
}

func TestClientReportsRefusal(t *testing.T) {
	s := newScenario(t, 0, 0)
	cl := s.startClient(t, 1000)

	if !s.sim.RunUntil(cl.Done, 5*time.Second) {
		t.Fatalf("client still running")
	}
	if !errors.Is(cl.Err(), ErrConnectionLost) {
		t.Errorf("client error %v, want ErrConnectionLost", cl.Err())
	}
}
