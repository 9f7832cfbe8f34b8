package lib

import (
	"fmt"

	rp "github.com/Clouded-Sabre/ringpool/lib"
	"github.com/sirupsen/logrus"
)

// Payload is a fixed-size chunk that outbound segments are encoded into
type Payload struct {
	buf    []byte
	length int
}

// NewPayload creates a chunk. The only parameter is the chunk length.
func NewPayload(params ...interface{}) rp.DataInterface {
	if len(params) != 1 {
		logrus.Error("NewPayload: Invalid number of calling parameters. Should be only one: bufferlength")
		return nil
	}
	bufferLength, ok := params[0].(int)
	if !ok {
		logrus.Error("NewPayload: Invalid data type of bufferLength. Should be of type int")
		return nil
	}
	return &Payload{buf: make([]byte, bufferLength)}
}

func (p *Payload) SetContent(s string) {
	p.length = copy(p.buf, s)
}

func (p *Payload) Reset() {
	p.length = 0
}

func (p *Payload) PrintContent() {
	fmt.Printf("Content: % x\n", p.buf[:p.length])
}

// Encode marshals seg into the chunk
func (p *Payload) Encode(seg *Segment) error {
	n, err := seg.Marshal(p.buf)
	if err != nil {
		return err
	}
	p.length = n
	return nil
}

func (p *Payload) GetSlice() []byte {
	return p.buf[:p.length]
}

func newSegmentPool(config *NodeConfig) *rp.RingPool {
	pool := rp.NewRingPool("Fishnet: ", config.PayloadPoolSize, NewPayload, SegmentHeaderLength+config.MSS)
	pool.Debug = config.PoolDebug
	return pool
}
