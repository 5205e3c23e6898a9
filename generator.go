package synthpub

import (
	"time"

	"github.com/pkg/errors"
)

// AudioGenerator produces sine tone blocks. Its time cursor survives restarts
// so the waveform continues where the previous run stopped.
type AudioGenerator struct {
	settings AudioSettings
	tone     Tone

	cursor TimeCursor
	block  []int16
	frame  AudioSamples
}

// NewAudioGenerator creates a generator for the given settings and tone.
func NewAudioGenerator(settings AudioSettings, tone Tone) *AudioGenerator {
	return &AudioGenerator{
		settings: settings,
		tone:     tone,
		cursor:   TimeCursor{Rate: settings.SampleRate},
	}
}

// Open allocates the block buffer.
func (g *AudioGenerator) Open() error {
	if g.settings.SampleRate <= 0 || g.settings.BlockSize <= 0 || g.settings.ChannelCount <= 0 {
		return errors.Errorf("invalid audio settings %+v", g.settings)
	}
	g.block = make([]int16, g.settings.BlockSize*g.settings.ChannelCount)
	return nil
}

// Next fills the block buffer with the next stretch of the tone.
func (g *AudioGenerator) Next() *AudioSamples {
	ts := g.cursor.Elapsed()
	g.cursor = SineBlockInterleaved(g.cursor, g.tone, g.settings.ChannelCount, g.block)
	g.frame = AudioSamples{
		Data:       g.block,
		SampleRate: g.settings.SampleRate,
		Channels:   g.settings.ChannelCount,
		Timestamp:  ts,
	}
	return &g.frame
}

// Close drops the block buffer.
func (g *AudioGenerator) Close() {
	g.block = nil
}

// Cursor returns the current time cursor. Not safe while the worker runs.
func (g *AudioGenerator) Cursor() TimeCursor {
	return g.cursor
}

// VideoGenerator produces frames filled with one pseudo-random byte value.
type VideoGenerator struct {
	settings VideoSettings
	seed     uint64

	rng     uint64
	buf     []byte
	frame   VideoFrame
	started time.Time
}

// NewVideoGenerator creates a frame generator. A zero seed reseeds from the
// clock on every Open; a non-zero seed makes each run reproducible.
func NewVideoGenerator(settings VideoSettings, seed uint64) *VideoGenerator {
	return &VideoGenerator{
		settings: settings,
		seed:     seed,
	}
}

// Open allocates the frame buffer and seeds the generator once for the run.
func (g *VideoGenerator) Open() error {
	size := g.settings.FrameSize()
	if size <= 0 {
		return errors.Errorf("invalid video settings %+v", g.settings)
	}
	g.buf = make([]byte, size)
	g.rng = g.seed
	if g.rng == 0 {
		g.rng = uint64(time.Now().UnixNano())
	}
	g.started = time.Now()
	return nil
}

// Next refills the frame buffer.
func (g *VideoGenerator) Next() *VideoFrame {
	g.rng = FillSolid(g.buf, g.rng)
	g.frame = VideoFrame{
		Data:      g.buf,
		Width:     g.settings.Width,
		Height:    g.settings.Height,
		Format:    g.settings.Format,
		Timestamp: time.Since(g.started),
	}
	return &g.frame
}

// Close drops the frame buffer.
func (g *VideoGenerator) Close() {
	g.buf = nil
}
