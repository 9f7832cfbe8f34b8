package lib

import "math"

// CongestionControl implements additive-increase/multiplicative-decrease
// with slow start and a single fast retransmit per loss episode.
type CongestionControl struct {
	cwnd         float64 // in segments
	ssthresh     float64
	mss          int
	dupThreshold int

	dupAcks         int
	fastRetransmits int
	peerWindow      uint32
}

func NewCongestionControl(config *NodeConfig) *CongestionControl {
	return &CongestionControl{
		cwnd:         config.InitialCwnd,
		ssthresh:     config.InitialSsthresh,
		mss:          config.MSS,
		dupThreshold: config.DupAckThreshold,
	}
}

func (c *CongestionControl) Cwnd() float64     { return c.cwnd }
func (c *CongestionControl) Ssthresh() float64 { return c.ssthresh }
func (c *CongestionControl) DupAcks() int      { return c.dupAcks }

// SetPeerWindow records the window the peer advertised last
func (c *CongestionControl) SetPeerWindow(w uint32) {
	c.peerWindow = w
}

// EffectiveWindow is the number of bytes that may be outstanding:
// min(max(peer window, 1), round(cwnd) * MSS)
func (c *CongestionControl) EffectiveWindow() uint32 {
	peer := max(c.peerWindow, 1)
	cong := uint32(math.Round(c.cwnd)) * uint32(c.mss)
	return min(peer, cong)
}

// OnNewAck grows the window for acked bytes of newly acknowledged data and
// ends any loss episode.
func (c *CongestionControl) OnNewAck(acked uint32) {
	c.dupAcks = 0
	c.fastRetransmits = 0
	if c.cwnd < c.ssthresh {
		c.cwnd += math.Ceil(float64(acked) / float64(c.mss))
	} else {
		c.cwnd += 1 / c.cwnd
	}
}

// OnDuplicateAck counts a duplicate acknowledgment. It returns true when the
// caller should fast retransmit from the send base.
func (c *CongestionControl) OnDuplicateAck() bool {
	c.dupAcks++
	if c.dupAcks != c.dupThreshold {
		return false
	}
	c.cwnd = math.Max(c.cwnd/2, 1)
	c.ssthresh = c.cwnd
	if c.fastRetransmits < 1 {
		c.fastRetransmits++
		return true
	}
	return false
}

// OnTimeout collapses the window after a retransmission timeout
func (c *CongestionControl) OnTimeout() {
	c.dupAcks = 0
	c.fastRetransmits = 0
	c.ssthresh = math.Max(c.cwnd/2, 1)
	c.cwnd = 1
}
