package rtc

import (
	"encoding/binary"
	"sync"

	"github.com/pion/rtp"
)

const (
	// DefaultMTU is the default maximum RTP packet size.
	DefaultMTU = 1200

	rtpHeaderSize = 12
)

// L16Payloader splits big-endian 16-bit PCM into RTP payloads. Payloads
// never split a sample.
type L16Payloader struct{}

// Payload implements rtp.Payloader.
func (p *L16Payloader) Payload(mtu uint16, payload []byte) [][]byte {
	return chunk(int(mtu)&^1, payload)
}

// RawVideoPayloader splits an uncompressed frame into RTP payloads. Payloads
// never split a 4-byte pixel.
type RawVideoPayloader struct{}

// Payload implements rtp.Payloader.
func (p *RawVideoPayloader) Payload(mtu uint16, payload []byte) [][]byte {
	return chunk(int(mtu)&^3, payload)
}

func chunk(size int, payload []byte) [][]byte {
	if size <= 0 || len(payload) == 0 {
		return nil
	}
	out := make([][]byte, 0, (len(payload)+size-1)/size)
	for len(payload) > 0 {
		n := size
		if n > len(payload) {
			n = len(payload)
		}
		out = append(out, payload[:n])
		payload = payload[n:]
	}
	return out
}

// EncodeL16 appends samples to dst as big-endian 16-bit PCM.
func EncodeL16(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		dst = binary.BigEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// Packetizer turns raw units into RTP packets. The last packet of a unit
// carries the marker bit; all packets of a unit share its timestamp.
type Packetizer struct {
	ssrc        uint32
	payloadType uint8
	mtu         int
	timestamp   uint32
	sequencer   rtp.Sequencer
	payloader   rtp.Payloader
	mu          sync.Mutex
}

// NewPacketizer creates a packetizer writing with the given SSRC and payload type.
func NewPacketizer(payloader rtp.Payloader, ssrc uint32, pt uint8, mtu int) *Packetizer {
	if mtu <= rtpHeaderSize {
		mtu = DefaultMTU
	}
	return &Packetizer{
		ssrc:        ssrc,
		payloadType: pt,
		mtu:         mtu,
		sequencer:   rtp.NewRandomSequencer(),
		payloader:   payloader,
	}
}

// Packetize splits one unit into packets and advances the timestamp by
// samples clock ticks.
func (p *Packetizer) Packetize(unit []byte, samples uint32) []*rtp.Packet {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(unit) == 0 {
		return nil
	}

	payloads := p.payloader.Payload(uint16(p.mtu-rtpHeaderSize), unit)
	packets := make([]*rtp.Packet, len(payloads))
	for i, payload := range payloads {
		packets[i] = &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
				PayloadType:    p.payloadType,
				SequenceNumber: p.sequencer.NextSequenceNumber(),
				Timestamp:      p.timestamp,
				SSRC:           p.ssrc,
			},
			Payload: payload,
		}
	}
	p.timestamp += samples
	return packets
}
