package synthpub

import (
	"github.com/pkg/errors"
)

// Kind classifies publisher errors.
type Kind int

const (
	KindUnknown             Kind = iota
	KindInitialization           // SDK, session or publisher could not be created
	KindResourceUnavailable      // a required handle is missing
	KindRequestRejected          // the SDK refused connect/publish/unpublish/disconnect
	KindLifecycle                // lifecycle misuse (already running, not publishing)
	KindDelivery                 // a single unit could not be pushed to the SDK
)

func (k Kind) String() string {
	switch k {
	case KindInitialization:
		return "InitializationFailure"
	case KindResourceUnavailable:
		return "ResourceUnavailable"
	case KindRequestRejected:
		return "RequestRejected"
	case KindLifecycle:
		return "LifecycleMisuse"
	case KindDelivery:
		return "DeliveryFailure"
	default:
		return "Unknown"
	}
}

// kindError is a sentinel carrying its Kind.
type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func newKindError(kind Kind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

var (
	ErrInitialization         = newKindError(KindInitialization, "initialization failed")
	ErrSessionInitFailed      = newKindError(KindInitialization, "session could not be created")
	ErrPublisherUnavailable   = newKindError(KindResourceUnavailable, "publisher is not available")
	ErrNoSession              = newKindError(KindResourceUnavailable, "no session")
	ErrCapturerUnavailable    = newKindError(KindResourceUnavailable, "video capturer not initialized")
	ErrAudioDeviceUnavailable = newKindError(KindResourceUnavailable, "audio device not registered")
	ErrConnectRequestFailed   = newKindError(KindRequestRejected, "connect request failed")
	ErrPublishRejected        = newKindError(KindRequestRejected, "publish rejected")
	ErrUnpublishRejected      = newKindError(KindRequestRejected, "unpublish rejected")
	ErrDisconnectRejected     = newKindError(KindRequestRejected, "disconnect rejected")
	ErrAlreadyRunning         = newKindError(KindLifecycle, "capture worker already running")
	ErrAlreadyStarted         = newKindError(KindLifecycle, "publishing already started")
	ErrNotPublishing          = newKindError(KindLifecycle, "publisher is not publishing")
	ErrDeliveryFailure        = newKindError(KindDelivery, "delivery failed")
)

// KindOf returns the Kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// wrapKind annotates cause with sentinel so that both errors.Is(err, sentinel)
// and the cause's message survive.
func wrapKind(sentinel error, cause error) error {
	if cause == nil {
		return sentinel
	}
	return &causedError{sentinel: sentinel, cause: errors.WithStack(cause)}
}

type causedError struct {
	sentinel error
	cause    error
}

func (e *causedError) Error() string { return e.sentinel.Error() + ": " + e.cause.Error() }

func (e *causedError) Is(target error) bool { return target == e.sentinel }

func (e *causedError) As(target interface{}) bool {
	if ke, ok := target.(**kindError); ok {
		*ke = e.sentinel.(*kindError)
		return true
	}
	return false
}

func (e *causedError) Unwrap() error { return e.cause }

// Cause is used by github.com/pkg/errors.Cause.
func (e *causedError) Cause() error { return e.cause }
