package rawip

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/Clouded-Sabre/Fishnet-TCP/lib"
	"github.com/Clouded-Sabre/Fishnet-TCP/transfer"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"
)

type datagram struct {
	src  netip.Addr
	data []byte
}

// pipeEnd is one side of an in-memory point-to-point link
type pipeEnd struct {
	local  netip.Addr
	in     chan datagram
	peer   *pipeEnd
	closed chan struct{}
	once   sync.Once
}

func newPipe(a, b netip.Addr) (*pipeEnd, *pipeEnd) {
	ea := &pipeEnd{local: a, in: make(chan datagram, 1024), closed: make(chan struct{})}
	eb := &pipeEnd{local: b, in: make(chan datagram, 1024), closed: make(chan struct{})}
	ea.peer, eb.peer = eb, ea
	return ea, eb
}

func (e *pipeEnd) ReadFrom(b []byte) (int, *ipv4.ControlMessage, net.Addr, error) {
	select {
	case d := <-e.in:
		n := copy(b, d.data)
		return n, &ipv4.ControlMessage{Dst: net.IP(e.local.AsSlice())}, &net.IPAddr{IP: net.IP(d.src.AsSlice())}, nil
	case <-e.closed:
		return 0, nil, nil, net.ErrClosed
	}
}

func (e *pipeEnd) WriteTo(b []byte, _ *ipv4.ControlMessage, dst net.Addr) (int, error) {
	if ip, ok := dst.(*net.IPAddr); !ok || !ip.IP.Equal(net.IP(e.peer.local.AsSlice())) {
		return 0, errors.New("no route")
	}
	select {
	case e.peer.in <- datagram{src: e.local, data: append([]byte(nil), b...)}:
	default:
	}
	return len(b), nil
}

func (e *pipeEnd) Close() error {
	e.once.Do(func() { close(e.closed) })
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var (
	serverAddr = netip.MustParseAddr("192.0.2.1")
	clientAddr = netip.MustParseAddr("192.0.2.2")
)

func startHosts(t *testing.T, opts Options) (*Host, *Host, func()) {
	t.Helper()
	ps, pc := newPipe(serverAddr, clientAddr)
	server := newHost(ps, serverAddr, nil, Options{}, quietLogger())
	client := newHost(pc, clientAddr, nil, opts, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return client.Run(ctx) })
	return server, client, func() {
		cancel()
		if err := g.Wait(); err != nil {
			t.Errorf("hosts: %v", err)
		}
	}
}

func TestTransferOverHosts(t *testing.T) {
	server, client, stop := startHosts(t, Options{LossRate: 0.05, Seed: 3})
	defer stop()

	var srv *transfer.Server
	err := server.Do(func(n *lib.Node) {
		l, _ := n.Socket()
		l.Bind(9000)
		l.Listen(4)
		srv = transfer.NewServer(l, transfer.DefaultBufferSize, n.Logger())
	})
	if err != nil {
		t.Fatal(err)
	}
	server.Every(2*time.Millisecond, srv.Execute)

	const amount = 30000
	var cl *transfer.Client
	err = client.Do(func(n *lib.Node) {
		c, _ := n.Socket()
		c.Bind(0)
		if err := c.Connect(serverAddr, 9000); err != nil {
			t.Errorf("connect: %v", err)
		}
		cl = transfer.NewClient(c, amount, transfer.DefaultBufferSize, n.Logger())
	})
	if err != nil {
		t.Fatal(err)
	}
	client.Every(2*time.Millisecond, cl.Execute)

	deadline := time.Now().Add(60 * time.Second)
	for {
		var done bool
		var clientErr error
		client.Do(func(*lib.Node) { done, clientErr = cl.Done(), cl.Err() })
		var received int
		server.Do(func(*lib.Node) {
			if w := srv.Workers(); len(w) == 1 {
				received = w[0].Received()
			}
		})
		if done && received == amount {
			if clientErr != nil {
				t.Errorf("client: %v", clientErr)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("transfer stalled at %d of %d bytes", received, amount)
		}
		time.Sleep(10 * time.Millisecond)
	}

	var stats Stats
	client.Do(func(*lib.Node) { stats = client.Stats() })
	if stats.Sent == 0 || stats.Received == 0 {
		t.Errorf("client stats %+v", stats)
	}
}

func TestDoAfterStop(t *testing.T) {
	server, _, stop := startHosts(t, Options{})
	stop()
	if err := server.Do(func(*lib.Node) {}); !errors.Is(err, ErrHostClosed) {
		t.Errorf("Do on a stopped host: %v", err)
	}
}

func TestEveryStops(t *testing.T) {
	server, _, stop := startHosts(t, Options{})
	defer stop()

	calls := 0
	finished := make(chan struct{})
	server.Every(time.Millisecond, func() bool {
		calls++
		if calls == 3 {
			close(finished)
			return false
		}
		return true
	})
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatalf("ticker did not run")
	}
	time.Sleep(20 * time.Millisecond)
	var got int
	server.Do(func(*lib.Node) { got = calls })
	if got != 3 {
		t.Errorf("calls = %d after the callback asked to stop", got)
	}
}

func TestPickLocalAddr(t *testing.T) {
	candidates := []netip.Prefix{
		netip.MustParsePrefix("10.1.1.5/24"),
		netip.MustParsePrefix("172.16.0.9/16"),
		netip.MustParsePrefix("192.168.7.20/24"),
	}
	testCases := []struct {
		target string
		want   string
		ok     bool
	}{
		{"192.168.7.1", "192.168.7.20", true},
		{"172.16.44.1", "172.16.0.9", true},
		{"8.8.8.8", "10.1.1.5", true},
		{"127.0.0.3", "127.0.0.3", true},
	}
	for _, tc := range testCases {
		got, ok := pickLocalAddr(netip.MustParseAddr(tc.target), candidates)
		if ok != tc.ok || got.String() != tc.want {
			t.Errorf("pickLocalAddr(%s) = %s, %v; want %s", tc.target, got, ok, tc.want)
		}
	}
	if _, ok := pickLocalAddr(netip.MustParseAddr("8.8.8.8"), nil); ok {
		t.Errorf("picked an address without candidates")
	}
}
