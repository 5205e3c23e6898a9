package rtc

import (
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"github.com/thesyncim/synthpub"
)

const (
	MimeTypeL16      = "audio/L16"
	MimeTypeRawVideo = "video/raw"

	PayloadTypeL16      webrtc.PayloadType = 96
	PayloadTypeRawVideo webrtc.PayloadType = 97

	// VideoClockRate is the RTP clock rate of raw video.
	VideoClockRate = 90000
)

// AudioCodec returns the L16 codec for the given capture settings.
func AudioCodec(settings synthpub.AudioSettings) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  MimeTypeL16,
			ClockRate: uint32(settings.SampleRate),
			Channels:  uint16(settings.ChannelCount),
		},
		PayloadType: PayloadTypeL16,
	}
}

// VideoCodec returns the raw video codec.
func VideoCodec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  MimeTypeRawVideo,
			ClockRate: VideoClockRate,
		},
		PayloadType: PayloadTypeRawVideo,
	}
}

// binding is one negotiated sender of a Track.
type binding struct {
	id         string
	writer     webrtc.TrackLocalWriter
	packetizer *Packetizer
}

// Track implements pion's webrtc.TrackLocal for raw units. Each binding gets
// its own packetizer so SSRC, payload type and sequence numbers follow the
// negotiation of that sender.
type Track struct {
	id       string
	streamID string
	kind     webrtc.RTPCodecType
	codec    webrtc.RTPCodecCapability
	mtu      int

	newPayloader func() rtp.Payloader

	bindMu   sync.RWMutex
	bindings []*binding
}

// NewTrack creates an unbound track.
func NewTrack(codec webrtc.RTPCodecCapability, id, streamID string, mtu int, newPayloader func() rtp.Payloader) *Track {
	kind := webrtc.RTPCodecTypeVideo
	if strings.HasPrefix(strings.ToLower(codec.MimeType), "audio/") {
		kind = webrtc.RTPCodecTypeAudio
	}
	return &Track{
		id:           id,
		streamID:     streamID,
		kind:         kind,
		codec:        codec,
		mtu:          mtu,
		newPayloader: newPayloader,
	}
}

func (t *Track) ID() string                       { return t.id }
func (t *Track) RID() string                      { return "" }
func (t *Track) StreamID() string                 { return t.streamID }
func (t *Track) Kind() webrtc.RTPCodecType        { return t.kind }
func (t *Track) Codec() webrtc.RTPCodecCapability { return t.codec }

// Bind implements webrtc.TrackLocal.
func (t *Track) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	for _, p := range ctx.CodecParameters() {
		if !strings.EqualFold(p.MimeType, t.codec.MimeType) {
			continue
		}
		t.bindMu.Lock()
		t.bindings = append(t.bindings, &binding{
			id:         ctx.ID(),
			writer:     ctx.WriteStream(),
			packetizer: NewPacketizer(t.newPayloader(), uint32(ctx.SSRC()), uint8(p.PayloadType), t.mtu),
		})
		t.bindMu.Unlock()
		return p, nil
	}
	return webrtc.RTPCodecParameters{}, webrtc.ErrUnsupportedCodec
}

// Unbind implements webrtc.TrackLocal.
func (t *Track) Unbind(ctx webrtc.TrackLocalContext) error {
	t.bindMu.Lock()
	defer t.bindMu.Unlock()

	for i, b := range t.bindings {
		if b.id == ctx.ID() {
			t.bindings = append(t.bindings[:i], t.bindings[i+1:]...)
			return nil
		}
	}
	return errors.Errorf("track %s: unbind of unknown binding %s", t.id, ctx.ID())
}

// Bound reports whether at least one sender is bound.
func (t *Track) Bound() bool {
	t.bindMu.RLock()
	defer t.bindMu.RUnlock()
	return len(t.bindings) > 0
}

// WriteUnit packetizes one unit spanning samples clock ticks and writes it
// to every binding. Units written before negotiation are dropped.
func (t *Track) WriteUnit(unit []byte, samples uint32) error {
	t.bindMu.RLock()
	defer t.bindMu.RUnlock()

	for _, b := range t.bindings {
		for _, pkt := range b.packetizer.Packetize(unit, samples) {
			if _, err := b.writer.WriteRTP(&pkt.Header, pkt.Payload); err != nil {
				return errors.Wrapf(err, "track %s", t.id)
			}
		}
	}
	return nil
}

// Verify Track implements webrtc.TrackLocal
var _ webrtc.TrackLocal = (*Track)(nil)
