// Package rtc implements synthpub.SDK on top of pion/webrtc. A session
// exchanges offer, answer and ICE candidates with a WebSocket signaling
// server and sends raw media over RTP: L16 audio and uncompressed video.
package rtc

import (
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/thesyncim/synthpub"
)

var (
	ErrNotInitialized   = errors.New("rtc: sdk not initialized")
	ErrNotConnected     = errors.New("rtc: session not connected")
	ErrAlreadyConnected = errors.New("rtc: session already connecting or connected")
	ErrAlreadyPublished = errors.New("rtc: session already has a publisher")
	ErrNotPublished     = errors.New("rtc: publisher not published in this session")
	ErrForeignPublisher = errors.New("rtc: publisher was not created by this sdk")
	ErrNoActiveStream   = errors.New("rtc: no active stream")
	ErrClosed           = errors.New("rtc: closed")
)

// Config configures the SDK.
type Config struct {
	// SignalingURL is the base ws:// or wss:// URL of the signaling server.
	SignalingURL string

	// ICEServers are passed to every peer connection.
	ICEServers []webrtc.ICEServer

	// MTU is the maximum RTP packet size (default: DefaultMTU).
	MTU int

	// ConnectTimeout bounds the signaling dial (default: 10s).
	ConnectTimeout time.Duration

	// SettingEngine overrides pion's setting engine, mostly for tests.
	SettingEngine *webrtc.SettingEngine
}

// SDK is a pion-backed synthpub.SDK. The audio device is process wide and
// feeds the session whose publisher is currently published.
type SDK struct {
	config Config
	log    *logrus.Entry

	initialized atomic.Bool

	mu          sync.Mutex
	audioDevice *audioDevice
	active      *Session
}

// New creates an SDK. Init must be called before use.
func New(config Config) *SDK {
	if config.MTU <= 0 {
		config.MTU = DefaultMTU
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	return &SDK{
		config: config,
		log:    synthpub.NewComponentLogger("rtc"),
	}
}

// Init implements synthpub.SDK.
func (s *SDK) Init() error {
	if s.config.SignalingURL == "" {
		return errors.New("rtc: signaling url is required")
	}
	if _, err := SessionURL(s.config.SignalingURL, "probe"); err != nil {
		return err
	}
	s.initialized.Store(true)
	s.log.WithField("signaling", s.config.SignalingURL).Debug("sdk initialized")
	return nil
}

// Destroy implements synthpub.SDK.
func (s *SDK) Destroy() error {
	if !s.initialized.CompareAndSwap(true, false) {
		return nil
	}
	s.mu.Lock()
	s.audioDevice = nil
	s.active = nil
	s.mu.Unlock()
	s.log.Debug("sdk destroyed")
	return nil
}

// NewSession implements synthpub.SDK.
func (s *SDK) NewSession(apiKey, sessionID string, callbacks synthpub.SessionCallbacks) (synthpub.Session, error) {
	if !s.initialized.Load() {
		return nil, ErrNotInitialized
	}
	return newSession(s, apiKey, sessionID, callbacks), nil
}

// SetAudioDevice implements synthpub.SDK.
func (s *SDK) SetAudioDevice(callbacks synthpub.AudioDeviceCallbacks) (synthpub.AudioDevice, error) {
	if !s.initialized.Load() {
		return nil, ErrNotInitialized
	}
	if callbacks.StartCapturer == nil || callbacks.DestroyCapturer == nil {
		return nil, errors.New("rtc: audio device callbacks are incomplete")
	}
	d := &audioDevice{sdk: s, callbacks: callbacks}
	s.mu.Lock()
	s.audioDevice = d
	s.mu.Unlock()
	return d, nil
}

// NewPublisher implements synthpub.SDK. The capturer's Init callback runs
// before NewPublisher returns.
func (s *SDK) NewPublisher(name string, capturer synthpub.VideoCapturerCallbacks, callbacks synthpub.PublisherCallbacks) (synthpub.PublisherHandle, error) {
	if !s.initialized.Load() {
		return nil, ErrNotInitialized
	}
	if capturer.Start == nil || capturer.Destroy == nil {
		return nil, errors.New("rtc: video capturer callbacks are incomplete")
	}
	p := newPublisher(s, name, capturer, callbacks)
	if capturer.Init != nil {
		if err := capturer.Init(&videoCapturer{publisher: p}); err != nil {
			return nil, errors.Wrap(err, "rtc: video capturer init")
		}
	}
	return p, nil
}

// RTCPStats returns the feedback counters of the session currently
// publishing, or nil when nothing is published.
func (s *SDK) RTCPStats() *RTCPStats {
	if session := s.activeSession(); session != nil {
		return session.RTCPStats()
	}
	return nil
}

func (s *SDK) device() *audioDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioDevice
}

func (s *SDK) activeSession() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *SDK) setActive(session *Session) {
	s.mu.Lock()
	s.active = session
	s.mu.Unlock()
}

func (s *SDK) clearActive(session *Session) {
	s.mu.Lock()
	if s.active == session {
		s.active = nil
	}
	s.mu.Unlock()
}

// audioSettings returns the settings of the registered device, or the
// defaults when no device is registered.
func (s *SDK) audioSettings() synthpub.AudioSettings {
	if d := s.device(); d != nil && d.callbacks.CaptureSettings != nil {
		return d.callbacks.CaptureSettings()
	}
	return synthpub.DefaultAudioSettings()
}

// newAPI builds a pion API with the raw media codecs and the default
// interceptors.
func (s *SDK) newAPI(audio synthpub.AudioSettings) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(AudioCodec(audio), webrtc.RTPCodecTypeAudio); err != nil {
		return nil, errors.Wrap(err, "register audio codec")
	}
	if err := m.RegisterCodec(VideoCodec(), webrtc.RTPCodecTypeVideo); err != nil {
		return nil, errors.Wrap(err, "register video codec")
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, errors.Wrap(err, "register interceptors")
	}

	opts := []func(*webrtc.API){
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
	}
	if s.config.SettingEngine != nil {
		opts = append(opts, webrtc.WithSettingEngine(*s.config.SettingEngine))
	}
	return webrtc.NewAPI(opts...), nil
}

// audioDevice is the process-wide synthpub.AudioDevice.
type audioDevice struct {
	sdk       *SDK
	callbacks synthpub.AudioDeviceCallbacks
}

// WriteCaptureData implements synthpub.AudioDevice.
func (d *audioDevice) WriteCaptureData(samples []int16) error {
	session := d.sdk.activeSession()
	if session == nil {
		return ErrNoActiveStream
	}
	return session.writeAudio(samples)
}

// videoCapturer is the synthpub.VideoCapturer handed to a publisher's Init
// callback.
type videoCapturer struct {
	publisher *Publisher
}

// ProvideFrame implements synthpub.VideoCapturer.
func (c *videoCapturer) ProvideFrame(frame *synthpub.VideoFrame) error {
	return c.publisher.writeVideo(frame)
}
