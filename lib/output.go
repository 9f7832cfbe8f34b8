package lib

// receiveWindow is the free space of the receive buffer
func (c *Connection) receiveWindow() uint32 {
	if c.rcvBuf == nil {
		return 0
	}
	return uint32(c.rcvBuf.Free())
}

func (c *Connection) sendControl(typ SegmentType, window, seq uint32) {
	c.node.send(c.id, &Segment{Type: typ, Window: window, Seq: seq})
}

// sendSyn emits the SYN and arms the retry timer while still connecting
func (c *Connection) sendSyn(retry bool) {
	if c.state != StateSynSent {
		return
	}
	if retry {
		c.stats.SynRetries++
		c.log.Debugf("Retrying SYN seq=%d", c.sndBase)
	}
	c.sendControl(SYN, c.receiveWindow(), c.sndBase)
	c.node.schedule(c.node.config.SynRetryInterval, TimerEvent{Kind: TimerSynRetry, Conn: c})
}

func (c *Connection) sendAck() {
	c.stats.AcksSent++
	c.sendControl(ACK, c.receiveWindow(), c.rcvBuf.Tail())
}

func (c *Connection) sendFin() {
	c.log.Debugf("Sending FIN seq=%d", c.sndBase)
	c.sendControl(FIN, 0, c.sndBase)
}

// sendData emits one DATA segment starting at seq and returns its length
func (c *Connection) sendData(seq uint32) uint32 {
	written := c.sndBuf.Tail()
	limit := min(written, c.sndBase+c.cc.EffectiveWindow())
	if seq >= limit {
		return 0
	}
	cnt := min(limit-seq, uint32(c.node.config.MSS))

	payload := c.node.scratch[:cnt]
	c.sndBuf.Peek(seq, payload)
	c.node.send(c.id, &Segment{Type: DATA, Window: c.receiveWindow(), Seq: seq, Payload: payload})

	c.stats.DataSent++
	c.stats.BytesSent += uint64(cnt)
	if seq < c.sndTop {
		c.stats.Retransmitted++
	}
	if top := seq + cnt; top > c.sndTop {
		c.sndTop = top
	}
	if seq == c.sndBase {
		c.startRtTimer(seq)
	}
	c.rtt.OnSend(seq, c.sndBase, c.node.now())
	return cnt
}

// transmit sends every new byte the window allows
func (c *Connection) transmit() {
	for {
		n := c.sendData(c.sndNext)
		if n == 0 {
			return
		}
		c.sndNext += n
	}
}

// resend retransmits window-eligible bytes from seq and returns the end of
// the burst
func (c *Connection) resend(seq uint32) uint32 {
	for {
		n := c.sendData(seq)
		if n == 0 {
			return seq
		}
		seq += n
	}
}

func (c *Connection) startRtTimer(seq uint32) {
	c.node.schedule(c.rtt.RTO(), TimerEvent{Kind: TimerRetransmit, Conn: c, Seq: seq})
	c.rtPending++
}

// retransmit handles the retransmission timeout for the byte at seq
func (c *Connection) retransmit(seq uint32) {
	if c.state != StateEstablished && c.state != StateShutdown {
		return
	}
	if c.sndBase > seq {
		return
	}
	c.rtPending--
	if c.rtPending > 0 {
		return
	}

	c.rtExpired++
	c.stats.Timeouts++
	c.rtt.Rearm()
	c.cc.OnTimeout()
	if c.rtExpired == 1 {
		c.rtt.Backoff()
	}
	c.log.Debugf("Retransmission timeout at %d, rto now %v", seq, c.rtt.RTO())

	c.sndNext = c.resend(seq)
}
