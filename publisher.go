package synthpub

import (
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Name  string        // Publisher name announced to the session (default: "synthpub")
	Audio AudioSettings // Audio capture settings (default: DefaultAudioSettings)
	Video VideoSettings // Video capture settings (default: DefaultVideoSettings)
	Tone  Tone          // Audio tone (default: DefaultTone)
	Seed  uint64        // Video fill seed, 0 = time based
}

// DefaultPublisherConfig returns the default publisher configuration.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		Name:  "synthpub",
		Audio: DefaultAudioSettings(),
		Video: DefaultVideoSettings(),
		Tone:  DefaultTone(),
	}
}

// Publisher connects the SDK's capturer callbacks to one audio and one video
// CaptureWorker and publishes the resulting stream into a session.
type Publisher struct {
	config PublisherConfig
	sdk    SDK
	log    *logrus.Entry

	audio *CaptureWorker[*AudioSamples]
	video *CaptureWorker[*VideoFrame]

	audioDevice atomic.Pointer[audioDeviceRef]
	capturer    atomic.Pointer[capturerRef]
	handle      PublisherHandle
	released    atomic.Bool

	streamID atomic.String
}

// capturerRef and audioDeviceRef box SDK interfaces for atomic storage; the
// SDK may call back before the constructor returns.
type capturerRef struct {
	VideoCapturer
}

type audioDeviceRef struct {
	AudioDevice
}

// NewPublisher registers the audio device and creates the SDK publisher.
func NewPublisher(sdk SDK, config PublisherConfig) (*Publisher, error) {
	// Apply defaults
	def := DefaultPublisherConfig()
	if config.Name == "" {
		config.Name = def.Name
	}
	if config.Audio == (AudioSettings{}) {
		config.Audio = def.Audio
	}
	if config.Video == (VideoSettings{}) {
		config.Video = def.Video
	}
	if config.Tone == (Tone{}) {
		config.Tone = def.Tone
	}

	p := &Publisher{
		config: config,
		sdk:    sdk,
		log:    NewComponentLogger("Publisher").WithField("publisher", config.Name),
	}
	p.audio = NewCaptureWorker[*AudioSamples]("AudioCapturer",
		NewAudioGenerator(config.Audio, config.Tone), config.Audio.BlockDuration())
	p.video = NewCaptureWorker[*VideoFrame]("VideoCapturer",
		NewVideoGenerator(config.Video, config.Seed), config.Video.FrameInterval())

	device, err := sdk.SetAudioDevice(AudioDeviceCallbacks{
		StartCapturer:   p.startAudioCapturer,
		DestroyCapturer: p.destroyAudioCapturer,
		CaptureSettings: p.AudioSettings,
	})
	if err != nil {
		p.log.WithError(err).Error("error setting audio device")
		return nil, wrapKind(ErrInitialization, err)
	}
	if device == nil {
		p.log.Error("error setting audio device")
		return nil, ErrInitialization
	}
	p.audioDevice.Store(&audioDeviceRef{device})

	handle, err := sdk.NewPublisher(config.Name,
		VideoCapturerCallbacks{
			Init:            p.initVideoCapturer,
			Start:           p.startVideoCapturer,
			Destroy:         p.destroyVideoCapturer,
			CaptureSettings: p.VideoSettings,
		},
		PublisherCallbacks{
			OnStreamCreated:   p.onStreamCreated,
			OnStreamDestroyed: p.onStreamDestroyed,
			OnError:           p.onError,
		})
	if err != nil {
		p.log.WithError(err).Error("could not create publisher")
		return nil, wrapKind(ErrInitialization, err)
	}
	if handle == nil {
		p.log.Error("could not create publisher")
		return nil, ErrInitialization
	}
	p.handle = handle

	return p, nil
}

// AudioSettings answers the audio capture settings query.
func (p *Publisher) AudioSettings() AudioSettings {
	return p.config.Audio
}

// VideoSettings answers the video capture settings query.
func (p *Publisher) VideoSettings() VideoSettings {
	return p.config.Video
}

// Handle returns the SDK publisher handle, or nil once released.
func (p *Publisher) Handle() PublisherHandle {
	if p.released.Load() {
		return nil
	}
	return p.handle
}

// Publishing reports whether a capture worker is running.
func (p *Publisher) Publishing() bool {
	return p.audio.Active() || p.video.Active()
}

// Delivered returns the number of audio blocks and video frames accepted by
// the SDK so far.
func (p *Publisher) Delivered() (audio, video uint64) {
	return p.audio.Delivered(), p.video.Delivered()
}

// StreamID returns the ID of the stream created for this publisher, if any.
func (p *Publisher) StreamID() string {
	return p.streamID.Load()
}

// PublishToSession publishes into session.
func (p *Publisher) PublishToSession(session Session) error {
	handle := p.Handle()
	if handle == nil {
		p.log.Error("publish: publisher is null")
		return ErrPublisherUnavailable
	}
	if err := session.Publish(handle); err != nil {
		p.log.WithError(err).Error("could not publish to session")
		return wrapKind(ErrPublishRejected, err)
	}
	return nil
}

// UnpublishFromSession removes the publisher from session. It returns
// ErrNotPublishing without contacting the SDK if nothing is being captured.
func (p *Publisher) UnpublishFromSession(session Session) error {
	handle := p.Handle()
	if handle == nil {
		p.log.Error("unpublish: publisher is null")
		return ErrPublisherUnavailable
	}
	if !p.Publishing() {
		p.log.Error("unpublish: publisher is not publishing")
		return ErrNotPublishing
	}
	if err := session.Unpublish(handle); err != nil {
		p.log.WithError(err).Error("could not unpublish")
		return wrapKind(ErrUnpublishRejected, err)
	}
	return nil
}

// StopCapture stops both capture workers and waits for them to exit.
func (p *Publisher) StopCapture() {
	p.video.Stop()
	p.audio.Stop()
}

// Close stops capturing and releases the SDK publisher exactly once.
func (p *Publisher) Close() error {
	p.StopCapture()
	if !p.released.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.handle.Close(); err != nil {
		p.log.WithError(err).Error("error releasing publisher")
		return err
	}
	return nil
}

func (p *Publisher) startAudioCapturer() error {
	p.log.Debug("audio_device_start_capturer")
	device := p.audioDevice.Load()
	if device == nil {
		p.log.Error("audio device not registered")
		return ErrAudioDeviceUnavailable
	}
	return p.audio.Start(func(samples *AudioSamples) error {
		return device.WriteCaptureData(samples.Data)
	})
}

func (p *Publisher) destroyAudioCapturer() error {
	p.log.Debug("audio_device_destroy_capturer")
	p.audio.Stop()
	return nil
}

func (p *Publisher) initVideoCapturer(capturer VideoCapturer) error {
	p.log.Debug("video_capturer_init")
	if capturer == nil {
		return ErrCapturerUnavailable
	}
	p.capturer.Store(&capturerRef{capturer})
	return nil
}

func (p *Publisher) startVideoCapturer() error {
	p.log.Debug("video_capturer_start")
	ref := p.capturer.Load()
	if ref == nil {
		p.log.Error("video capturer not initialized")
		return ErrCapturerUnavailable
	}
	return p.video.Start(func(frame *VideoFrame) error {
		return ref.ProvideFrame(frame)
	})
}

func (p *Publisher) destroyVideoCapturer() error {
	p.log.Debug("video_capturer_destroy")
	p.video.Stop()
	return nil
}

func (p *Publisher) onStreamCreated(streamID string) {
	p.streamID.Store(streamID)
	p.log.WithField("stream", streamID).Debug("on_publisher_stream_created")
}

func (p *Publisher) onStreamDestroyed(streamID string) {
	p.streamID.CompareAndSwap(streamID, "")
	p.log.WithField("stream", streamID).Debug("on_publisher_stream_destroyed")
}

func (p *Publisher) onError(message string, code int) {
	p.log.WithField("code", code).Errorf("publisher error: %s", message)
}
