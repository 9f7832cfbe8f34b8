package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/Clouded-Sabre/Fishnet-TCP/transfer"
	"github.com/google/subcommands"
)

// Transfer implements subcommands.Command for the "transfer" scenario
type Transfer struct {
	net    netFlags
	amount int
	limit  time.Duration
}

func (*Transfer) Name() string     { return "transfer" }
func (*Transfer) Synopsis() string { return "stream bytes from a client to a server and verify them" }
func (*Transfer) Usage() string {
	return "transfer [flags]\n"
}

func (t *Transfer) SetFlags(f *flag.FlagSet) {
	t.net.register(f)
	f.IntVar(&t.amount, "amount", 100000, "bytes to transfer")
	f.DurationVar(&t.limit, "limit", time.Hour, "give up after this much virtual time")
}

func (t *Transfer) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := t.net.setup()
	if err != nil {
		fmt.Println(err)
		return subcommands.ExitFailure
	}
	defer e.close()

	listener, _ := e.server.Socket()
	if err := listener.Bind(serverPort); err != nil {
		fmt.Println("Bind error:", err)
		return subcommands.ExitFailure
	}
	listener.Listen(4)
	srv := transfer.NewServer(listener, transfer.DefaultBufferSize, e.server.Logger())
	e.sim.Every(tick, srv.Execute)

	conn, _ := e.client.Socket()
	conn.Bind(0)
	if err := conn.Connect(serverAddr, serverPort); err != nil {
		fmt.Println("Connect error:", err)
		return subcommands.ExitFailure
	}
	cl := transfer.NewClient(conn, t.amount, transfer.DefaultBufferSize, e.client.Logger())
	e.sim.Every(tick, cl.Execute)

	received := func() int {
		if w := srv.Workers(); len(w) > 0 {
			return w[0].Received()
		}
		return 0
	}
	ok := e.sim.RunUntil(func() bool { return cl.Done() && received() == t.amount }, t.limit)

	stats := conn.Stats()
	fmt.Printf("virtual time: %v\n", e.elapsed())
	e.printNetStats()
	fmt.Printf("client: %d data segments, %d retransmitted, %d timeouts, %d fast retransmits, %d dup acks, %d rtt samples\n",
		stats.DataSent, stats.Retransmitted, stats.Timeouts, stats.FastRetransmits, stats.DupAcks, stats.RttSamples)
	fmt.Printf("server: %d of %d bytes received\n", received(), t.amount)

	switch {
	case !ok:
		fmt.Println("transfer did not complete in time")
		return subcommands.ExitFailure
	case cl.Err() != nil:
		fmt.Println("transfer failed:", cl.Err())
		return subcommands.ExitFailure
	}
	if secs := e.elapsed().Seconds(); secs > 0 {
		fmt.Printf("goodput: %.1f KB/s\n", float64(t.amount)/1024/secs)
	}
	return subcommands.ExitSuccess
}
