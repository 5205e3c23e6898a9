package synthpub

import (
	"math"
	"time"
)

// TimeCursor is the elapsed time of a sample stream, counted in samples.
type TimeCursor struct {
	Samples uint64 // Samples produced so far (per channel)
	Rate    int    // Sample rate
}

// Elapsed returns the cursor position as a duration.
func (c TimeCursor) Elapsed() time.Duration {
	if c.Rate <= 0 {
		return 0
	}
	sec := c.Samples / uint64(c.Rate)
	rem := c.Samples % uint64(c.Rate)
	return time.Duration(sec)*time.Second + time.Duration(rem)*time.Second/time.Duration(c.Rate)
}

// Advance returns the cursor moved forward by n samples.
func (c TimeCursor) Advance(n int) TimeCursor {
	c.Samples += uint64(n)
	return c
}

// Tone describes a cosine waveform.
type Tone struct {
	Frequency float64 // Hz
	Amplitude float64 // 0.0-1.0 of full scale
}

// DefaultTone is a 400Hz tone at 75% of full scale.
func DefaultTone() Tone {
	return Tone{Frequency: 400, Amplitude: 0.75}
}

// ToneSample returns the sample of tone at sample index n of a stream
// running at rate.
func ToneSample(tone Tone, n uint64, rate int) int16 {
	t := float64(n) / float64(rate)
	return int16(tone.Amplitude * math.MaxInt16 * math.Cos(2*math.Pi*tone.Frequency*t))
}

// SineBlock fills dst with consecutive mono samples of tone starting at cur
// and returns the cursor advanced by len(dst).
func SineBlock(cur TimeCursor, tone Tone, dst []int16) TimeCursor {
	for i := range dst {
		dst[i] = ToneSample(tone, cur.Samples+uint64(i), cur.Rate)
	}
	return cur.Advance(len(dst))
}

// SineBlockInterleaved is SineBlock for multi-channel buffers: every channel
// of a frame carries the same sample. len(dst) must be a multiple of channels.
func SineBlockInterleaved(cur TimeCursor, tone Tone, channels int, dst []int16) TimeCursor {
	if channels <= 1 {
		return SineBlock(cur, tone, dst)
	}
	frames := len(dst) / channels
	for i := 0; i < frames; i++ {
		s := ToneSample(tone, cur.Samples+uint64(i), cur.Rate)
		for c := 0; c < channels; c++ {
			dst[i*channels+c] = s
		}
	}
	return cur.Advance(frames)
}

// NextRandom advances an xorshift64 state. A zero state is replaced by a
// fixed non-zero constant since zero is a fixed point.
func NextRandom(state uint64) uint64 {
	if state == 0 {
		state = 0x9E3779B97F4A7C15
	}
	state ^= state << 13
	state ^= state >> 7
	state ^= state << 17
	return state
}

// FillSolid advances state once and fills buf with the low byte of the new
// state. It returns the new state.
func FillSolid(buf []byte, state uint64) uint64 {
	state = NextRandom(state)
	v := byte(state)
	for i := range buf {
		buf[i] = v
	}
	return state
}
