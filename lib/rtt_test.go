package lib

import (
	"testing"
	"time"
)

func TestRttUpdate(t *testing.T) {
	r := NewRttEstimator(DefaultNodeConfig())
	if r.RTO() != time.Second {
		t.Fatalf("initial RTO %v", r.RTO())
	}

	testCases := []struct {
		sample   time.Duration
		estimate time.Duration
		dev      time.Duration
		rto      time.Duration
	}{
		{200 * time.Millisecond, 900 * time.Millisecond, 175 * time.Millisecond, 1600 * time.Millisecond},
		{200 * time.Millisecond, 812500 * time.Microsecond, 284375 * time.Microsecond, 1950 * time.Millisecond},
	}
	for i, tc := range testCases {
		r.Update(tc.sample)
		if r.Estimate() != tc.estimate || r.Deviation() != tc.dev || r.RTO() != tc.rto {
			t.Errorf("sample %d: got est=%v dev=%v rto=%v, expected %v/%v/%v",
				i, r.Estimate(), r.Deviation(), r.RTO(), tc.estimate, tc.dev, tc.rto)
		}
	}
}

func TestRttBounds(t *testing.T) {
	r := NewRttEstimator(DefaultNodeConfig())
	for range 200 {
		r.Update(0)
	}
	if r.RTO() != DefaultMinRTO {
		t.Errorf("RTO %v, want floor %v", r.RTO(), DefaultMinRTO)
	}

	r.Update(time.Minute)
	if r.RTO() != DefaultMaxRTO {
		t.Errorf("RTO %v, want ceiling %v", r.RTO(), DefaultMaxRTO)
	}

	r = NewRttEstimator(DefaultNodeConfig())
	r.Backoff()
	if r.RTO() != 2*time.Second {
		t.Errorf("backoff RTO %v", r.RTO())
	}
	for range 10 {
		r.Backoff()
	}
	if r.RTO() != DefaultMaxRTO {
		t.Errorf("repeated backoff RTO %v", r.RTO())
	}

	cfg := DefaultNodeConfig()
	cfg.InitialRTO = 2 * time.Minute
	if got := NewRttEstimator(cfg).RTO(); got != DefaultMaxRTO {
		t.Errorf("initial RTO %v not clamped to %v", got, DefaultMaxRTO)
	}
	cfg.InitialRTO = 0
	if got := NewRttEstimator(cfg).RTO(); got != DefaultMinRTO {
		t.Errorf("initial RTO %v not clamped to %v", got, DefaultMinRTO)
	}
}

func TestRttSampling(t *testing.T) {
	r := NewRttEstimator(DefaultNodeConfig())
	t0 := time.Unix(0, 0)

	r.OnSend(100, 100, t0)
	// a later send does not restart the sample in flight
	r.OnSend(150, 100, t0.Add(time.Second))
	if r.OnAck(100, 100, t0.Add(time.Second)) {
		t.Fatalf("ack not covering the timed byte produced a sample")
	}
	if !r.OnAck(150, 100, t0.Add(200*time.Millisecond)) {
		t.Fatalf("no sample taken")
	}
	if r.Estimate() != 900*time.Millisecond {
		t.Errorf("estimate %v", r.Estimate())
	}

	r.OnSend(150, 150, t0)
	r.Rearm()
	if r.OnAck(300, 150, t0.Add(time.Millisecond)) {
		t.Errorf("sample survived Rearm")
	}
}
