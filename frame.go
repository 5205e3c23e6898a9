// Core frame, sample and capture settings types shared by the publisher and its SDK.

package synthpub

import "time"

// PixelFormat represents video pixel formats understood by the SDK boundary.
type PixelFormat int

const (
	PixelFormatARGB32 PixelFormat = iota // Packed ARGB, 4 bytes per pixel
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatARGB32:
		return "ARGB32"
	default:
		return "Unknown"
	}
}

// FrameSize returns the buffer size in bytes of one width×height frame.
func (p PixelFormat) FrameSize(width, height int) int {
	switch p {
	case PixelFormatARGB32:
		return width * height * 4
	default:
		return 0
	}
}

// AudioSettings describes the capture side of the audio device.
type AudioSettings struct {
	ChannelCount int // Number of channels (1 = mono)
	SampleRate   int // Samples per second per channel
	BlockSize    int // Samples per delivered block (per channel)
}

// BlockDuration returns the playback duration of one block.
func (s AudioSettings) BlockDuration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(s.BlockSize) * time.Second / time.Duration(s.SampleRate)
}

// DefaultAudioSettings returns mono 48kHz delivered in 10ms blocks.
func DefaultAudioSettings() AudioSettings {
	return AudioSettings{
		ChannelCount: 1,
		SampleRate:   48000,
		BlockSize:    480,
	}
}

// VideoSettings describes the capture side of the video capturer.
type VideoSettings struct {
	Width  int         // Frame width in pixels
	Height int         // Frame height in pixels
	Format PixelFormat // Pixel format of delivered buffers
	FPS    int         // Frames per second
}

// FrameInterval returns the pacing interval between two frames.
func (s VideoSettings) FrameInterval() time.Duration {
	if s.FPS <= 0 {
		return 0
	}
	return time.Second / time.Duration(s.FPS)
}

// FrameSize returns the buffer size of one frame.
func (s VideoSettings) FrameSize() int {
	return s.Format.FrameSize(s.Width, s.Height)
}

// DefaultVideoSettings returns 720p ARGB32 at one frame per second.
func DefaultVideoSettings() VideoSettings {
	return VideoSettings{
		Width:  1280,
		Height: 720,
		Format: PixelFormatARGB32,
		FPS:    1,
	}
}

// AudioSamples is one block of interleaved signed 16-bit PCM.
// Data is reused by the producer and is only valid until the sink returns.
type AudioSamples struct {
	Data       []int16       // Interleaved samples, len = SampleCount * Channels
	SampleRate int           // Sample rate (e.g., 48000)
	Channels   int           // Number of channels (1 = mono, 2 = stereo)
	Timestamp  time.Duration // Elapsed capture time of the first sample
}

// SampleCount returns the number of samples per channel.
func (s *AudioSamples) SampleCount() int {
	if s.Channels <= 0 {
		return 0
	}
	return len(s.Data) / s.Channels
}

// Clone creates a deep copy of the audio samples.
// Use this when you need to keep the samples beyond the sink call.
func (s *AudioSamples) Clone() *AudioSamples {
	clone := *s
	if s.Data != nil {
		clone.Data = make([]int16, len(s.Data))
		copy(clone.Data, s.Data)
	}
	return &clone
}

// VideoFrame represents a raw packed video frame.
// Data is reused by the producer and is only valid until the sink returns.
type VideoFrame struct {
	Data      []byte        // Packed pixel data
	Width     int           // Frame width in pixels
	Height    int           // Frame height in pixels
	Format    PixelFormat   // Pixel format
	Timestamp time.Duration // Elapsed capture time
}

// Clone creates a deep copy of the video frame.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := *f
	if f.Data != nil {
		clone.Data = make([]byte, len(f.Data))
		copy(clone.Data, f.Data)
	}
	return &clone
}
