package synthpub

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// State is the connection state of a Client.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Credentials identify the session to join. They are passed through to the
// SDK unchecked.
type Credentials struct {
	APIKey    string
	SessionID string
	Token     string
}

// Client connects to a session and publishes one synthetic stream into it.
type Client struct {
	sdk    SDK
	creds  Credentials
	config PublisherConfig
	log    *logrus.Entry

	state atomic.Int32

	// mu guards session and publisher; it is never held across SDK calls
	mu        sync.Mutex
	session   Session
	publisher *Publisher

	closed atomic.Bool
}

// NewClient initializes sdk and returns an idle client.
func NewClient(sdk SDK, creds Credentials) (*Client, error) {
	return NewClientWithConfig(sdk, creds, DefaultPublisherConfig())
}

// NewClientWithConfig is NewClient with explicit publisher settings.
func NewClientWithConfig(sdk SDK, creds Credentials, config PublisherConfig) (*Client, error) {
	log := NewComponentLogger("Client")
	if err := sdk.Init(); err != nil {
		log.WithError(err).Error("could not initialize SDK")
		return nil, wrapKind(ErrInitialization, err)
	}
	return &Client{
		sdk:    sdk,
		creds:  creds,
		config: config,
		log:    log.WithField("session", creds.SessionID),
	}, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Publisher returns the publisher created by StartPublishing, if any.
func (c *Client) Publisher() *Publisher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publisher
}

// StartPublishing creates the session and publisher and requests a
// connection. Publishing begins once the SDK reports the session connected.
func (c *Client) StartPublishing() error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return ErrAlreadyStarted
	}

	if err := c.startPublishing(); err != nil {
		c.state.Store(int32(StateIdle))
		return err
	}

	c.log.Info("connecting to session")
	return nil
}

func (c *Client) startPublishing() error {
	session, err := c.sdk.NewSession(c.creds.APIKey, c.creds.SessionID, SessionCallbacks{
		OnConnected:    c.onConnected,
		OnDisconnected: c.onDisconnected,
		OnError:        c.onError,
	})
	if err != nil || session == nil {
		c.log.WithError(err).Error("could not create session")
		return wrapKind(ErrSessionInitFailed, err)
	}

	publisher, err := NewPublisher(c.sdk, c.config)
	if err != nil {
		c.closeSession(session)
		return err
	}

	c.mu.Lock()
	c.session = session
	c.publisher = publisher
	c.mu.Unlock()

	// The SDK may report the connection before Connect returns, so the
	// lock is not held here
	if err := session.Connect(c.creds.Token); err != nil {
		c.log.WithError(err).Error("could not connect to session")
		c.mu.Lock()
		c.session = nil
		c.publisher = nil
		c.mu.Unlock()
		if cerr := publisher.Close(); cerr != nil {
			c.log.WithError(cerr).Warn("error releasing publisher")
		}
		c.closeSession(session)
		return wrapKind(ErrConnectRequestFailed, err)
	}
	return nil
}

func (c *Client) closeSession(session Session) {
	if err := session.Close(); err != nil {
		c.log.WithError(err).Warn("error releasing session")
	}
}

// StopPublishing unpublishes the stream and, if connected, requests a
// disconnect. It returns ErrNoSession if StartPublishing never succeeded.
func (c *Client) StopPublishing() error {
	c.mu.Lock()
	session, publisher := c.session, c.publisher
	c.mu.Unlock()

	if session == nil {
		c.log.Error("stop publishing: no session")
		return ErrNoSession
	}
	if publisher == nil {
		return ErrPublisherUnavailable
	}

	if err := publisher.UnpublishFromSession(session); err != nil {
		return err
	}

	if c.State() == StateConnected {
		if err := session.Disconnect(); err != nil {
			c.log.WithError(err).Error("could not disconnect session")
			return wrapKind(ErrDisconnectRejected, err)
		}
	}
	return nil
}

// Close releases the publisher, the session and the SDK. Failures are logged
// and returned together; Close never stops early.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	session, publisher := c.session, c.publisher
	c.session, c.publisher = nil, nil
	c.mu.Unlock()

	var result *multierror.Error
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if session != nil {
		if err := session.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := c.sdk.Destroy(); err != nil {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		c.log.WithError(err).Warn("errors during teardown")
		return err
	}
	return nil
}

func (c *Client) onConnected() {
	c.state.Store(int32(StateConnected))
	c.log.Info("session connected")

	c.mu.Lock()
	session, publisher := c.session, c.publisher
	c.mu.Unlock()

	if session == nil || publisher == nil {
		c.log.Error("connected without session or publisher")
		return
	}
	// A failed publish leaves the session connected without a stream
	if err := publisher.PublishToSession(session); err != nil {
		c.log.WithError(err).Error("could not publish after connect")
	}
}

func (c *Client) onDisconnected() {
	c.state.Store(int32(StateDisconnected))
	c.log.Info("session disconnected")

	c.mu.Lock()
	publisher := c.publisher
	c.mu.Unlock()

	if publisher != nil {
		publisher.StopCapture()
	}
}

func (c *Client) onError(message string, code int) {
	c.log.WithField("code", code).Errorf("session error: %s", message)
}
