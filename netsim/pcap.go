package netsim

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const snapLen = 65536

// Trace writes segments to a pcap stream as raw IPv4 datagrams carrying the
// node's protocol number.
type Trace struct {
	w      *pcapgo.Writer
	closer io.Closer
	ipID   uint16
}

func NewTrace(w io.Writer) (*Trace, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeRaw); err != nil {
		return nil, err
	}
	return &Trace{w: pw}, nil
}

// CreateTrace opens path for writing and starts a pcap stream in it
func CreateTrace(path string) (*Trace, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	t, err := NewTrace(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	t.closer = f
	return t, nil
}

func (t *Trace) WriteSegment(ts time.Time, src, dst netip.Addr, protocol uint8, segment []byte) error {
	if !src.Is4() || !dst.Is4() {
		return fmt.Errorf("trace supports IPv4 only: %s->%s", src, dst)
	}
	t.ipID++
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Id:       t.ipID,
		Protocol: layers.IPProtocol(protocol),
		SrcIP:    net.IP(src.AsSlice()),
		DstIP:    net.IP(dst.AsSlice()),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, gopacket.Payload(segment)); err != nil {
		return err
	}
	data := buf.Bytes()
	return t.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}, data)
}

func (t *Trace) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

// TracedSegment is one datagram read back from a trace
type TracedSegment struct {
	Timestamp time.Time
	Src       netip.Addr
	Dst       netip.Addr
	Protocol  uint8
	Segment   []byte
}

// ReadTrace decodes every datagram of a pcap stream written by Trace
func ReadTrace(r io.Reader) ([]TracedSegment, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, err
	}
	var out []TracedSegment
	for {
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		packet := gopacket.NewPacket(data, layers.LayerTypeIPv4, gopacket.Default)
		ip, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		if !ok {
			return out, fmt.Errorf("packet %d is not IPv4", len(out))
		}
		src, _ := netip.AddrFromSlice(ip.SrcIP.To4())
		dst, _ := netip.AddrFromSlice(ip.DstIP.To4())
		out = append(out, TracedSegment{
			Timestamp: ci.Timestamp,
			Src:       src,
			Dst:       dst,
			Protocol:  uint8(ip.Protocol),
			Segment:   ip.Payload,
		})
	}
}
