// losssim runs transfer scenarios over the simulated lossy network and
// prints what the protocol did.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/Clouded-Sabre/Fishnet-TCP/config"
	"github.com/Clouded-Sabre/Fishnet-TCP/lib"
	"github.com/Clouded-Sabre/Fishnet-TCP/netsim"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

var (
	serverAddr = netip.MustParseAddr("10.0.0.1")
	clientAddr = netip.MustParseAddr("10.0.0.2")
)

const (
	serverPort = 8901
	tick       = 5 * time.Millisecond
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&Transfer{}, "")
	subcommands.Register(&Backlog{}, "")
	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

// netFlags are the network settings shared by every scenario. Flags left at
// their zero value keep the configuration file's setting.
type netFlags struct {
	configPath string
	loss       float64
	latency    time.Duration
	seed       int64
	pcapPath   string
}

func (n *netFlags) register(f *flag.FlagSet) {
	f.StringVar(&n.configPath, "config", "config.yaml", "configuration file")
	f.Float64Var(&n.loss, "loss", -1, "segment loss rate, overrides the configuration file")
	f.DurationVar(&n.latency, "latency", 0, "one-way latency, overrides the configuration file")
	f.Int64Var(&n.seed, "seed", 0, "loss generator seed, overrides the configuration file")
	f.StringVar(&n.pcapPath, "pcap", "", "write every transmitted segment to this pcap file")
}

type env struct {
	sim    *netsim.Simulator
	server *lib.Node
	client *lib.Node
	trace  *netsim.Trace
	logger *logrus.Logger
}

func (n *netFlags) setup() (*env, error) {
	cfg, err := config.LoadConfig(n.configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration file error: %w", err)
	}
	if n.loss >= 0 {
		cfg.Net.LossRate = n.loss
	}
	if n.seed != 0 {
		cfg.Net.Seed = n.seed
	}
	if n.pcapPath != "" {
		cfg.Net.PcapPath = n.pcapPath
	}
	latency := cfg.Net.Latency()
	if n.latency > 0 {
		latency = n.latency
	}
	logger, err := cfg.Net.NewLogger()
	if err != nil {
		return nil, err
	}

	sim := netsim.New(netsim.Config{Latency: latency, LossRate: cfg.Net.LossRate, Seed: cfg.Net.Seed}, logger)
	e := &env{sim: sim, logger: logger}
	if cfg.Net.PcapPath != "" {
		if e.trace, err = netsim.CreateTrace(cfg.Net.PcapPath); err != nil {
			return nil, err
		}
		sim.SetTrace(e.trace)
	}
	if e.server, err = sim.AddNode(serverAddr, cfg.Node); err != nil {
		return nil, err
	}
	if e.client, err = sim.AddNode(clientAddr, cfg.Node); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *env) close() {
	if e.trace != nil {
		if err := e.trace.Close(); err != nil {
			e.logger.WithError(err).Warn("Failed to close trace")
		}
	}
}

func (e *env) elapsed() time.Duration {
	return e.sim.Now().Sub(time.Unix(0, 0))
}

func (e *env) printNetStats() {
	s := e.sim.Stats()
	fmt.Printf("network: %d sent, %d delivered, %d dropped, %d undeliverable\n", s.Sent, s.Delivered, s.Dropped, s.Undeliverable)
}
