// Package transfer implements the bulk transfer applications used to
// exercise the transport: a client streaming a byte pattern and a server
// verifying it. Both are polled: Execute does one round of non-blocking work
// and must be called on the goroutine that drives the node.
package transfer

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/Clouded-Sabre/Fishnet-TCP/lib"
	"github.com/sirupsen/logrus"
)

const DefaultBufferSize = 65536

var (
	ErrConnectionLost = errors.New("connection closed before the transfer completed")
	ErrCorrupted      = errors.New("data corruption detected")
)

// fillPattern writes the stream pattern for offsets [pos, pos+len(buf))
func fillPattern(buf []byte, pos int) {
	for i := range buf {
		buf[i] = byte(pos + i)
	}
}

// Client streams amount bytes of the pattern over an outgoing connection,
// then closes it.
type Client struct {
	conn    *lib.Connection
	amount  int
	sent    int
	buf     []byte
	digest  hash.Hash
	closing bool
	done    bool
	err     error
	log     *logrus.Entry
}

func NewClient(conn *lib.Connection, amount, bufSize int, log *logrus.Entry) *Client {
	return &Client{
		conn:   conn,
		amount: amount,
		buf:    make([]byte, bufSize),
		digest: sha256.New(),
		log:    log.WithField("app", "transfer-client"),
	}
}

func (c *Client) Sent() int  { return c.sent }
func (c *Client) Done() bool { return c.done }
func (c *Client) Err() error { return c.err }

// Digest is the SHA-256 of every byte accepted by the connection so far
func (c *Client) Digest() []byte { return c.digest.Sum(nil) }

// Execute writes what the connection accepts. It returns false once the
// client has finished, successfully or not.
func (c *Client) Execute() bool {
	if c.done {
		return false
	}
	switch c.conn.State() {
	case lib.StateSynSent, lib.StateShutdown:
		return true
	case lib.StateEstablished:
		if c.sent < c.amount {
			n := min(len(c.buf), c.amount-c.sent)
			fillPattern(c.buf[:n], c.sent)
			written, err := c.conn.Write(c.buf[:n])
			if err != nil {
				return c.finish(err)
			}
			c.digest.Write(c.buf[:written])
			c.sent += written
		}
		if c.sent >= c.amount && !c.closing {
			c.closing = true
			c.log.Infof("All %d bytes written, closing", c.sent)
			c.conn.Close()
		}
		return true
	default:
		if c.sent < c.amount || !c.closing {
			return c.finish(fmt.Errorf("%w: %d of %d bytes sent", ErrConnectionLost, c.sent, c.amount))
		}
		return c.finish(nil)
	}
}

func (c *Client) finish(err error) bool {
	c.done = true
	c.err = err
	if err != nil {
		c.log.WithError(err).Warn("Transfer aborted")
	} else {
		c.log.Infof("Transfer complete, %d bytes sent", c.sent)
	}
	c.conn.Release()
	return false
}

// Worker receives and verifies the stream of one accepted connection
type Worker struct {
	conn   *lib.Connection
	buf    []byte
	pos    int
	digest hash.Hash
	done   bool
	err    error
	log    *logrus.Entry
}

func newWorker(conn *lib.Connection, bufSize int, log *logrus.Entry) *Worker {
	return &Worker{
		conn:   conn,
		buf:    make([]byte, bufSize),
		digest: sha256.New(),
		log:    log.WithField("remote", conn.ID().String()),
	}
}

func (w *Worker) Received() int  { return w.pos }
func (w *Worker) Done() bool     { return w.done }
func (w *Worker) Err() error     { return w.err }
func (w *Worker) Digest() []byte { return w.digest.Sum(nil) }

// Execute reads and verifies available bytes. It returns false once the
// peer has finished or the stream was found corrupted.
func (w *Worker) Execute() bool {
	if w.done {
		return false
	}
	for {
		n, err := w.conn.Read(w.buf)
		for i := range n {
			if w.buf[i] != byte(w.pos+i) {
				return w.finish(fmt.Errorf("%w at position %d", ErrCorrupted, w.pos+i))
			}
		}
		w.digest.Write(w.buf[:n])
		w.pos += n

		switch {
		case err == io.EOF:
			return w.finish(nil)
		case err != nil:
			return w.finish(err)
		case n == 0:
			if w.conn.IsClosed() {
				return w.finish(nil)
			}
			return true
		}
	}
}

func (w *Worker) finish(err error) bool {
	w.done = true
	w.err = err
	if err != nil {
		w.log.WithError(err).Warnf("Receiving aborted at position %d", w.pos)
	} else {
		w.log.Infof("Connection closed, total bytes received = %d", w.pos)
	}
	w.conn.Release()
	return false
}

// Server accepts connections from a listener and runs a Worker for each
type Server struct {
	listener *lib.Connection
	bufSize  int
	workers  []*Worker
	log      *logrus.Entry
}

func NewServer(listener *lib.Connection, bufSize int, log *logrus.Entry) *Server {
	return &Server{
		listener: listener,
		bufSize:  bufSize,
		log:      log.WithField("app", "transfer-server"),
	}
}

func (s *Server) Workers() []*Worker { return s.workers }

// Execute accepts pending connections and runs every live worker once. It
// returns false after the listener is closed and all workers finished.
func (s *Server) Execute() bool {
	listening := !s.listener.IsClosed()
	if listening {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				break
			}
			s.log.Infof("Connection accepted from %s", conn.ID())
			s.workers = append(s.workers, newWorker(conn, s.bufSize, s.log))
		}
	}

	active := false
	for _, w := range s.workers {
		if w.Execute() {
			active = true
		}
	}
	return listening || active
}

// Shutdown closes the listener. Accepted connections keep running.
func (s *Server) Shutdown() {
	s.log.Info("Server shutdown")
	s.listener.Close()
}
