package synthpub

import (
	"sync"

	"go.uber.org/atomic"
)

// fakeSDK drives the capturer callbacks the way a real SDK does: publish
// starts capture, unpublish destroys it, disconnect reports back.
type fakeSDK struct {
	initErr      error
	destroyErr   error
	sessionErr   error
	audioErr     error
	publisherErr error
	skipInit     bool

	mu        sync.Mutex
	audioCB   AudioDeviceCallbacks
	videoCB   VideoCapturerCallbacks
	pubCB     PublisherCallbacks
	session   *fakeSession
	device    *fakeDevice
	capturer  *fakeCapturer
	publisher *fakeHandle

	destroyed atomic.Int32

	// Applied to every session created
	connectErr    error
	publishErr    error
	unpublishErr  error
	disconnectErr error
	closeErr      error
}

func newFakeSDK() *fakeSDK {
	return &fakeSDK{
		device:   &fakeDevice{},
		capturer: &fakeCapturer{},
	}
}

func (f *fakeSDK) Init() error { return f.initErr }

func (f *fakeSDK) Destroy() error {
	f.destroyed.Inc()
	return f.destroyErr
}

func (f *fakeSDK) NewSession(apiKey, sessionID string, callbacks SessionCallbacks) (Session, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	s := &fakeSession{
		sdk:           f,
		apiKey:        apiKey,
		sessionID:     sessionID,
		callbacks:     callbacks,
		connectErr:    f.connectErr,
		publishErr:    f.publishErr,
		unpublishErr:  f.unpublishErr,
		disconnectErr: f.disconnectErr,
		closeErr:      f.closeErr,
	}
	f.mu.Lock()
	f.session = s
	f.mu.Unlock()
	return s, nil
}

func (f *fakeSDK) SetAudioDevice(callbacks AudioDeviceCallbacks) (AudioDevice, error) {
	if f.audioErr != nil {
		return nil, f.audioErr
	}
	f.mu.Lock()
	f.audioCB = callbacks
	f.mu.Unlock()
	return f.device, nil
}

func (f *fakeSDK) NewPublisher(name string, capturer VideoCapturerCallbacks, callbacks PublisherCallbacks) (PublisherHandle, error) {
	if f.publisherErr != nil {
		return nil, f.publisherErr
	}
	f.mu.Lock()
	f.videoCB = capturer
	f.pubCB = callbacks
	f.publisher = &fakeHandle{name: name}
	handle := f.publisher
	f.mu.Unlock()

	if !f.skipInit {
		if err := capturer.Init(f.capturer); err != nil {
			return nil, err
		}
	}
	return handle, nil
}

func (f *fakeSDK) callbacks() (AudioDeviceCallbacks, VideoCapturerCallbacks, PublisherCallbacks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audioCB, f.videoCB, f.pubCB
}

func (f *fakeSDK) lastSession() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

type fakeSession struct {
	sdk       *fakeSDK
	apiKey    string
	sessionID string
	callbacks SessionCallbacks

	connectErr    error
	publishErr    error
	unpublishErr  error
	disconnectErr error
	closeErr      error

	mu    sync.Mutex
	calls []string
}

func (s *fakeSession) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *fakeSession) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSession) Connect(token string) error {
	s.record("connect")
	return s.connectErr
}

func (s *fakeSession) Disconnect() error {
	s.record("disconnect")
	if s.disconnectErr != nil {
		return s.disconnectErr
	}
	s.callbacks.OnDisconnected()
	return nil
}

func (s *fakeSession) Publish(p PublisherHandle) error {
	s.record("publish")
	if s.publishErr != nil {
		return s.publishErr
	}
	audio, video, pub := s.sdk.callbacks()
	if err := audio.StartCapturer(); err != nil {
		return err
	}
	if err := video.Start(); err != nil {
		return err
	}
	pub.OnStreamCreated("stream-1")
	return nil
}

func (s *fakeSession) Unpublish(p PublisherHandle) error {
	s.record("unpublish")
	if s.unpublishErr != nil {
		return s.unpublishErr
	}
	audio, video, pub := s.sdk.callbacks()
	_ = video.Destroy()
	_ = audio.DestroyCapturer()
	pub.OnStreamDestroyed("stream-1")
	return nil
}

func (s *fakeSession) Close() error {
	s.record("close")
	return s.closeErr
}

// connected simulates the SDK reporting the connection.
func (s *fakeSession) connected() { s.callbacks.OnConnected() }

// disconnected simulates the network dropping the session.
func (s *fakeSession) disconnected() { s.callbacks.OnDisconnected() }

type fakeDevice struct {
	writes  atomic.Uint64
	samples atomic.Uint64
	err     error
}

func (d *fakeDevice) WriteCaptureData(samples []int16) error {
	d.writes.Inc()
	d.samples.Add(uint64(len(samples)))
	return d.err
}

type fakeCapturer struct {
	frames atomic.Uint64
	bytes  atomic.Uint64
}

func (c *fakeCapturer) ProvideFrame(frame *VideoFrame) error {
	c.frames.Inc()
	c.bytes.Add(uint64(len(frame.Data)))
	return nil
}

type fakeHandle struct {
	name   string
	closes atomic.Int32
	err    error
}

func (h *fakeHandle) Close() error {
	h.closes.Inc()
	return h.err
}
