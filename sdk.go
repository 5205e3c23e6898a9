package synthpub

// SDK is the session/media runtime the publisher is driven by. Implementations
// invoke the registered callbacks from their own goroutines.
type SDK interface {
	// Init prepares the runtime. It is called once before any other method.
	Init() error

	// Destroy releases the runtime. No other method is called afterwards.
	Destroy() error

	// NewSession creates a session handle for the given credentials. The
	// callbacks are retained for the lifetime of the session.
	NewSession(apiKey, sessionID string, callbacks SessionCallbacks) (Session, error)

	// SetAudioDevice registers the process-wide audio capture device.
	SetAudioDevice(callbacks AudioDeviceCallbacks) (AudioDevice, error)

	// NewPublisher creates a publisher handle whose video is supplied by the
	// given capturer callbacks.
	NewPublisher(name string, capturer VideoCapturerCallbacks, callbacks PublisherCallbacks) (PublisherHandle, error)
}

// Session is a connection to a real-time communication session.
type Session interface {
	// Connect requests a connection. Success means the request was accepted;
	// the connection is established when SessionCallbacks.OnConnected fires.
	Connect(token string) error

	// Disconnect requests the session to disconnect.
	Disconnect() error

	// Publish starts streaming the publisher into the session.
	Publish(p PublisherHandle) error

	// Unpublish stops streaming the publisher.
	Unpublish(p PublisherHandle) error

	// Close releases the session handle.
	Close() error
}

// PublisherHandle is an outbound media stream created by the SDK.
type PublisherHandle interface {
	Close() error
}

// AudioDevice accepts captured audio.
type AudioDevice interface {
	// WriteCaptureData pushes one block of interleaved PCM samples.
	WriteCaptureData(samples []int16) error
}

// VideoCapturer accepts captured video frames.
type VideoCapturer interface {
	// ProvideFrame pushes one frame. The frame is not retained after return.
	ProvideFrame(frame *VideoFrame) error
}

// SessionCallbacks are the session notifications.
type SessionCallbacks struct {
	OnConnected    func()
	OnDisconnected func()
	OnError        func(message string, code int)
}

// AudioDeviceCallbacks drive the audio capture side.
type AudioDeviceCallbacks struct {
	StartCapturer   func() error
	DestroyCapturer func() error
	CaptureSettings func() AudioSettings
}

// VideoCapturerCallbacks drive the video capture side.
type VideoCapturerCallbacks struct {
	Init            func(capturer VideoCapturer) error
	Start           func() error
	Destroy         func() error
	CaptureSettings func() VideoSettings
}

// PublisherCallbacks are the publisher notifications.
type PublisherCallbacks struct {
	OnStreamCreated   func(streamID string)
	OnStreamDestroyed func(streamID string)
	OnError           func(message string, code int)
}
