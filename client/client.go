package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Clouded-Sabre/Fishnet-TCP/config"
	"github.com/Clouded-Sabre/Fishnet-TCP/lib"
	"github.com/Clouded-Sabre/Fishnet-TCP/rawip"
	"github.com/Clouded-Sabre/Fishnet-TCP/transfer"
	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

const pollInterval = 5 * time.Millisecond

var errRefused = errors.New("connection refused")

func main() {
	sourceIP := flag.String("sourceIP", "", "Source IP address, picked from the interfaces when empty")
	serverIP := flag.String("serverIP", "127.0.0.2", "Server IP address")
	serverPort := flag.Int("serverPort", 8901, "Server port")
	amount := flag.Int("amount", 100000, "Bytes to transfer")
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

	server, err := netip.ParseAddr(*serverIP)
	if err != nil {
		logger.Fatalln("Invalid server address:", err)
	}
	var local netip.Addr
	if *sourceIP == "" {
		local, err = rawip.LocalAddrFor(server)
	} else {
		local, err = netip.ParseAddr(*sourceIP)
	}
	if err != nil {
		logger.Fatalln("Invalid source address:", err)
	}

	host, err := rawip.Listen(local, cfg.Node, rawip.Options{LossRate: cfg.Net.LossRate, Seed: cfg.Net.Seed}, logger)
	if err != nil {
		logger.Fatalln("Error opening raw socket:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runErr := make(chan error, 1)
	go func() { runErr <- host.Run(ctx) }()

	dial := func() (*lib.Connection, error) {
		return connect(ctx, host, server, uint16(*serverPort), cfg.Reconnect.ConnectTimeout())
	}
	var conn *lib.Connection
	err = backoff.RetryNotify(func() error {
		c, err := dial()
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(cfg.Reconnect.NewBackOff(), ctx), func(err error, next time.Duration) {
		logger.WithError(err).Warnf("Connection attempt failed, retrying in %v", next.Round(time.Millisecond))
	})
	if err != nil {
		logger.WithError(err).Error("Giving up connecting")
		os.Exit(1)
	}
	logger.Infof("Connected to %s:%d", server, *serverPort)

	var client *transfer.Client
	host.Do(func(n *lib.Node) {
		client = transfer.NewClient(conn, *amount, transfer.DefaultBufferSize, n.Logger())
	})
	finished := make(chan struct{})
	host.Every(pollInterval, func() bool {
		if client.Execute() {
			return true
		}
		close(finished)
		return false
	})

	select {
	case <-finished:
	case <-ctx.Done():
	}
	var transferErr error
	host.Do(func(*lib.Node) { transferErr = client.Err() })
	stop()
	if err := <-runErr; err != nil {
		logger.WithError(err).Error("Host failed")
	}
	if transferErr != nil {
		logger.WithError(transferErr).Error("Transfer failed")
		os.Exit(1)
	}
	fmt.Printf("%d bytes transferred\n", *amount)
}

// connect makes one connection attempt and waits until it is established,
// refused or timed out.
func connect(ctx context.Context, host *rawip.Host, server netip.Addr, port uint16, timeout time.Duration) (*lib.Connection, error) {
	var conn *lib.Connection
	err := host.Do(func(n *lib.Node) {
		c, err := n.Socket()
		if err != nil {
			return
		}
		if c.Bind(0) != nil || c.Connect(server, port) != nil {
			c.Release()
			return
		}
		conn = c
	})
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	if conn == nil {
		return nil, fmt.Errorf("could not open a connection to %s:%d", server, port)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		var state lib.ConnState
		host.Do(func(*lib.Node) { state = conn.State() })
		switch state {
		case lib.StateEstablished:
			return conn, nil
		case lib.StateClosed:
			host.Do(func(*lib.Node) { conn.Release() })
			return nil, errRefused
		}
		select {
		case <-ctx.Done():
			host.Do(func(*lib.Node) { conn.Release() })
			return nil, fmt.Errorf("connect to %s:%d: %w", server, port, ctx.Err())
		case <-ticker.C:
		}
	}
}
