package main

import (
	"context"
	"flag"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Clouded-Sabre/Fishnet-TCP/config"
	"github.com/Clouded-Sabre/Fishnet-TCP/lib"
	"github.com/Clouded-Sabre/Fishnet-TCP/rawip"
	"github.com/Clouded-Sabre/Fishnet-TCP/transfer"
	"github.com/sirupsen/logrus"
)

const pollInterval = 5 * time.Millisecond

func main() {
	serverIP := flag.String("serverIP", "127.0.0.2", "Address to listen on")
	serverPort := flag.Int("serverPort", 8901, "Port to listen on")
	backlog := flag.Int("backlog", 4, "Established connections waiting for accept")
	configPath := flag.String("config", "config.yaml", "Configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalln("Configuration file error:", err)
	}
	logger, err := cfg.Net.NewLogger()
	if err != nil {
		logrus.Fatalln("Configuration file error:", err)
	}

	addr, err := netip.ParseAddr(*serverIP)
	if err != nil {
		logger.Fatalln("Invalid server address:", err)
	}
	host, err := rawip.Listen(addr, cfg.Node, rawip.Options{LossRate: cfg.Net.LossRate, Seed: cfg.Net.Seed}, logger)
	if err != nil {
		logger.Fatalln("Error opening raw socket:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- host.Run(ctx) }()

	var srv *transfer.Server
	err = host.Do(func(n *lib.Node) {
		listener, err := n.Socket()
		if err != nil {
			logger.Fatalln("No free connection slot:", err)
		}
		if err := listener.Bind(uint16(*serverPort)); err != nil {
			logger.Fatalln("Bind error:", err)
		}
		if err := listener.Listen(*backlog); err != nil {
			logger.Fatalln("Listen error:", err)
		}
		srv = transfer.NewServer(listener, transfer.DefaultBufferSize, n.Logger())
	})
	if err != nil {
		logger.Fatalln("Host stopped early:", err)
	}
	host.Every(pollInterval, srv.Execute)
	logger.Infof("Transfer server listening at %s:%d", addr, *serverPort)

	<-ctx.Done()
	logger.Info("Received signal. Shutting down...")
	if err := <-runErr; err != nil {
		logger.WithError(err).Error("Host failed")
	}
}
