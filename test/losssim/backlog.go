package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/Clouded-Sabre/Fishnet-TCP/lib"
	"github.com/google/subcommands"
)

// Backlog implements subcommands.Command for the "backlog" scenario: more
// clients connect than the listener queues and nobody accepts.
type Backlog struct {
	net     netFlags
	clients int
	backlog int
}

func (*Backlog) Name() string     { return "backlog" }
func (*Backlog) Synopsis() string { return "connect more clients than the listen backlog holds" }
func (*Backlog) Usage() string {
	return "backlog [flags]\n"
}

func (b *Backlog) SetFlags(f *flag.FlagSet) {
	b.net.register(f)
	f.IntVar(&b.clients, "clients", 3, "clients to connect")
	f.IntVar(&b.backlog, "backlog", 2, "listen backlog of the server")
}

func (b *Backlog) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	e, err := b.net.setup()
	if err != nil {
		fmt.Println(err)
		return subcommands.ExitFailure
	}
	defer e.close()

	listener, _ := e.server.Socket()
	listener.Bind(serverPort)
	listener.Listen(b.backlog)

	var conns []*lib.Connection
	for i := 0; i < b.clients; i++ {
		c, err := e.client.Socket()
		if err != nil {
			fmt.Printf("client %d: %v\n", i, err)
			break
		}
		c.Bind(0)
		c.Connect(serverAddr, serverPort)
		conns = append(conns, c)
	}
	e.sim.RunFor(5 * time.Second)

	for i, c := range conns {
		fmt.Printf("client %d (port %d): %s\n", i, c.ID().LocalPort, c.State())
	}
	fmt.Printf("pending at listener: %d, refused: %d\n", listener.Info().Pending, e.server.Stats().SynRejected)
	e.printNetStats()
	return subcommands.ExitSuccess
}
