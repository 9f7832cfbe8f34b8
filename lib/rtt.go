package lib

import (
	"math"
	"time"
)

// RttEstimator keeps the smoothed round trip time and derives the
// retransmission timeout from it. At most one byte is timed at a time.
type RttEstimator struct {
	estimate  time.Duration
	deviation time.Duration
	rto       time.Duration
	minRTO    time.Duration
	maxRTO    time.Duration

	sampling   bool
	sampleSeq  uint32
	sampleSent time.Time
}

func NewRttEstimator(config *NodeConfig) *RttEstimator {
	r := &RttEstimator{
		estimate: config.InitialRTO,
		minRTO:   config.MinRTO,
		maxRTO:   config.MaxRTO,
	}
	r.rto = r.clamp(config.InitialRTO)
	return r
}

func (r *RttEstimator) RTO() time.Duration       { return r.rto }
func (r *RttEstimator) Estimate() time.Duration  { return r.estimate }
func (r *RttEstimator) Deviation() time.Duration { return r.deviation }

// OnSend starts timing seq unless a sample at or beyond base is in flight
func (r *RttEstimator) OnSend(seq, base uint32, now time.Time) {
	if r.sampling && r.sampleSeq >= base {
		return
	}
	r.sampling = true
	r.sampleSeq = seq
	r.sampleSent = now
}

// OnAck takes a sample if ack covers the timed byte. base is the send base
// before the acknowledgment is applied. Reports whether a sample was taken.
func (r *RttEstimator) OnAck(ack, base uint32, now time.Time) bool {
	if !r.sampling || r.sampleSeq < base || ack <= r.sampleSeq {
		return false
	}
	r.sampling = false
	r.Update(now.Sub(r.sampleSent))
	return true
}

// Rearm drops the sample in flight; the next transmission starts a new one.
func (r *RttEstimator) Rearm() {
	r.sampling = false
}

// Update folds one measured round trip into the estimate
func (r *RttEstimator) Update(sample time.Duration) {
	est := time.Duration(0.875*float64(r.estimate) + 0.125*float64(sample))
	diff := math.Abs(float64(est - sample))
	r.deviation = time.Duration(0.75*float64(r.deviation) + 0.25*diff)
	r.estimate = est
	r.rto = r.clamp(est + 4*r.deviation)
}

// Backoff doubles the timeout up to the maximum
func (r *RttEstimator) Backoff() {
	r.rto = r.clamp(2 * r.rto)
}

func (r *RttEstimator) clamp(d time.Duration) time.Duration {
	if d < r.minRTO {
		return r.minRTO
	}
	if d > r.maxRTO {
		return r.maxRTO
	}
	return d
}
