package lib

import "net/netip"

func (c *Connection) handleSegment(src netip.Addr, seg *Segment) {
	c.log.Debugf("Received %s in %s", seg, c.state)
	switch seg.Type {
	case SYN:
		c.handleSyn(src, seg)
	case ACK:
		c.handleAck(seg)
	case FIN:
		c.handleFin(seg)
	case DATA:
		c.handleData(seg)
	}
}

func (c *Connection) handleSyn(src netip.Addr, seg *Segment) {
	switch c.state {
	case StateListen:
		c.spawn(src, seg)
	case StateEstablished:
		// our SYN-ACK was lost and the peer is retrying
		if c.passive && seg.Seq == c.rcvInitSeq {
			c.sendAck()
		}
	}
}

// spawn creates the passive side of a connection for an incoming SYN, or
// refuses it with a FIN when the backlog or the connection table is full.
func (c *Connection) spawn(src netip.Addr, seg *Segment) {
	n := c.node
	id := ConnID{LocalAddr: c.id.LocalAddr, LocalPort: c.id.LocalPort, RemoteAddr: src, RemotePort: seg.SrcPort}
	ackNum := seg.Seq + 1

	var child *Connection
	if len(c.pending) < c.backlog {
		child, _ = n.registry.allocate(n)
	}
	if child == nil {
		n.stats.SynRejected++
		c.log.Infof("Refusing connection from %s, %d pending", netip.AddrPortFrom(src, seg.SrcPort), len(c.pending))
		n.send(id, &Segment{Type: FIN, Window: 0, Seq: ackNum})
		return
	}

	child.setID(id)
	child.passive = true
	child.rcvInitSeq = seg.Seq
	child.rcvBuf = NewRingBuffer(n.config.BufferSize, ackNum)
	child.sndBuf = NewRingBuffer(n.config.BufferSize, ackNum)
	child.sndBase = ackNum
	child.sndNext = ackNum
	child.sndTop = ackNum
	child.cc.SetPeerWindow(seg.Window)
	child.state = StateEstablished
	child.sendAck()

	c.pending = append(c.pending, child)
	child.log.Info("Connection established (passive)")
}

func (c *Connection) handleAck(seg *Segment) {
	ack := seg.Seq

	if c.state == StateSynSent {
		if ack == c.sndBase+1 {
			c.sndBase = ack
			c.sndNext = ack
			c.sndTop = ack
			c.sndBuf.Reset(ack)
			c.cc.SetPeerWindow(seg.Window)
			c.state = StateEstablished
			c.log.Info("Connection established (active)")
		}
		return
	}
	if (c.state != StateEstablished && c.state != StateShutdown) || c.sndBuf == nil {
		return
	}
	if ack > c.sndTop {
		c.stats.InvalidAcks++
		return
	}
	c.cc.SetPeerWindow(seg.Window)

	switch {
	case ack > c.sndBase:
		c.rtPending = 0
		c.rtExpired = 0
		now := c.node.now()
		if c.rtt.OnAck(ack, c.sndBase, now) {
			c.stats.RttSamples++
		}
		acked := ack - c.sndBase
		c.cc.OnNewAck(acked)
		c.stats.BytesAcked += uint64(acked)

		c.sndBase = ack
		c.sndBuf.AdvanceTo(ack)
		if c.sndNext < ack {
			c.sndNext = ack
		}

		if c.sndBase < c.sndBuf.Tail() {
			if c.sndBase < c.sndTop {
				c.startRtTimer(c.sndBase)
			}
			c.transmit()
		} else if c.state == StateShutdown && c.finPending {
			c.sendFin()
			c.state = StateClosed
			c.log.Info("All data acknowledged, connection closed")
		}

	case ack == c.sndBase && c.sndBase < c.sndTop:
		c.stats.DupAcks++
		fast := c.cc.OnDuplicateAck()
		if c.cc.DupAcks() == c.node.config.DupAckThreshold {
			c.rtt.Rearm()
		}
		if fast {
			c.stats.FastRetransmits++
			c.log.Debugf("Fast retransmit from %d, cwnd %.2f", c.sndBase, c.cc.Cwnd())
			if end := c.resend(c.sndBase); end > c.sndNext {
				c.sndNext = end
			}
		}
	}
}

func (c *Connection) handleFin(seg *Segment) {
	switch c.state {
	case StateSynSent:
		if seg.Seq == c.sndBase+1 {
			c.state = StateClosed
			c.node.stats.ConnRefused++
			c.log.Info("Connection refused by peer")
		}
	case StateEstablished:
		c.peerClosed = true
		if c.rcvBuf.Len() == 0 {
			c.state = StateClosed
		} else {
			c.state = StateShutdown
		}
		c.log.Infof("Peer finished, now %s", c.state)
	}
}

func (c *Connection) handleData(seg *Segment) {
	if (c.state != StateEstablished && c.state != StateShutdown) || c.rcvBuf == nil {
		return
	}
	c.stats.DataReceived++
	if seg.Seq == c.rcvBuf.Tail() {
		n := c.rcvBuf.Write(seg.Payload)
		c.stats.BytesReceived += uint64(n)
	} else {
		c.stats.OutOfOrder++
	}
	c.sendAck()
}
