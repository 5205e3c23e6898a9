package rtc

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/thesyncim/synthpub"
)

type signalingRequest struct {
	path   string
	header http.Header
	conn   *websocket.Conn
}

// signalingServer accepts WebSocket connections and hands them to the test.
type signalingServer struct {
	*httptest.Server
	requests chan signalingRequest
}

func newSignalingServer(t *testing.T) *signalingServer {
	t.Helper()
	s := &signalingServer{requests: make(chan signalingRequest, 4)}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.requests <- signalingRequest{path: r.URL.Path, header: r.Header.Clone(), conn: conn}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *signalingServer) accept(t *testing.T) signalingRequest {
	t.Helper()
	select {
	case req := <-s.requests:
		t.Cleanup(func() { _ = req.conn.Close() })
		return req
	case <-time.After(5 * time.Second):
		t.Fatal("no signaling connection")
		return signalingRequest{}
	}
}

// readUntil reads messages until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ MessageType) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg
		}
	}
}

type sessionEvents struct {
	connected    atomic.Int32
	disconnected atomic.Int32
	errors       chan Message
}

func (e *sessionEvents) callbacks() synthpub.SessionCallbacks {
	return synthpub.SessionCallbacks{
		OnConnected:    func() { e.connected.Inc() },
		OnDisconnected: func() { e.disconnected.Inc() },
		OnError: func(message string, code int) {
			e.errors <- Message{Type: MessageError, Message: message, Code: code}
		},
	}
}

func connectedSession(t *testing.T) (*Session, *sessionEvents, signalingRequest) {
	t.Helper()
	srv := newSignalingServer(t)
	sdk := New(Config{SignalingURL: srv.URL})
	require.NoError(t, sdk.Init())

	events := &sessionEvents{errors: make(chan Message, 4)}
	handle, err := sdk.NewSession("key-1", "room-1", events.callbacks())
	require.NoError(t, err)
	session := handle.(*Session)
	t.Cleanup(func() { _ = session.Close() })

	require.NoError(t, session.Connect("token-1"))
	return session, events, srv.accept(t)
}

func TestSessionURL(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{base: "ws://localhost:8080", want: "ws://localhost:8080/sessions/abc"},
		{base: "wss://rtc.example.com/", want: "wss://rtc.example.com/sessions/abc"},
		{base: "http://localhost:8080/api", want: "ws://localhost:8080/api/sessions/abc"},
		{base: "https://rtc.example.com", want: "wss://rtc.example.com/sessions/abc"},
		{base: "ftp://rtc.example.com", wantErr: true},
		{base: "://bad", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := SessionURL(tt.base, "abc")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := SessionURL("ws://host", "a b/c")
	require.NoError(t, err)
	assert.Equal(t, "ws://host/sessions/a%20b%2Fc", got)
}

func TestSession_ConnectSendsOffer(t *testing.T) {
	useTestLogger(t)
	session, _, req := connectedSession(t)

	assert.Equal(t, "/sessions/room-1", req.path)
	assert.Equal(t, "Bearer token-1", req.header.Get("Authorization"))
	assert.Equal(t, "key-1", req.header.Get("X-Api-Key"))

	// Candidates are held back until the offer is out.
	require.NoError(t, req.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var first Message
	require.NoError(t, req.conn.ReadJSON(&first))
	assert.Equal(t, MessageOffer, first.Type)
	assert.Contains(t, first.SDP, "L16/48000")
	assert.Contains(t, first.SDP, "raw/90000")
	assert.Contains(t, first.SDP, "a=sendonly")

	assert.Equal(t, ErrAlreadyConnected, session.Connect("token-1"))
}

func TestSession_ServerError(t *testing.T) {
	useTestLogger(t)
	session, events, req := connectedSession(t)
	readUntil(t, req.conn, MessageOffer)

	require.NoError(t, req.conn.WriteJSON(Message{Type: MessageError, Message: "quota exceeded", Code: 4003}))

	select {
	case msg := <-events.errors:
		assert.Equal(t, "quota exceeded", msg.Message)
		assert.Equal(t, 4003, msg.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("OnError not called")
	}
	assert.Equal(t, sessionConnecting, session.currentState(), "error must not end the session")
}

func TestSession_RemoteBye(t *testing.T) {
	useTestLogger(t)
	session, events, req := connectedSession(t)
	readUntil(t, req.conn, MessageOffer)

	require.NoError(t, req.conn.WriteJSON(Message{Type: MessageBye}))

	require.Eventually(t, func() bool { return events.disconnected.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, ErrNotConnected, session.Disconnect())
	assert.Equal(t, ErrClosed, session.Connect("token-1"))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), events.disconnected.Load())
	assert.Empty(t, events.errors, "bye reported as an error")
}

func TestSession_SignalingLost(t *testing.T) {
	useTestLogger(t)
	_, events, req := connectedSession(t)
	readUntil(t, req.conn, MessageOffer)

	require.NoError(t, req.conn.Close())

	select {
	case msg := <-events.errors:
		assert.Equal(t, CodeSignalingFailed, msg.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("OnError not called")
	}
	require.Eventually(t, func() bool { return events.disconnected.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
}

func TestSession_DisconnectSendsBye(t *testing.T) {
	useTestLogger(t)
	session, events, req := connectedSession(t)
	readUntil(t, req.conn, MessageOffer)

	require.NoError(t, session.Disconnect())
	readUntil(t, req.conn, MessageBye)

	assert.Equal(t, int32(1), events.disconnected.Load())
	assert.Equal(t, ErrNotConnected, session.Disconnect())
	assert.NoError(t, session.Close())
	assert.Equal(t, int32(1), events.disconnected.Load())
}

func TestSession_ConnectRejected(t *testing.T) {
	useTestLogger(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	sdk := New(Config{SignalingURL: srv.URL})
	require.NoError(t, sdk.Init())
	events := &sessionEvents{errors: make(chan Message, 1)}
	session, err := sdk.NewSession("key", "room", events.callbacks())
	require.NoError(t, err)

	err = session.Connect("token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	// A failed attempt leaves the session reusable.
	err = session.Connect("token")
	require.Error(t, err)
	assert.NotEqual(t, ErrAlreadyConnected, err)
	assert.Zero(t, events.disconnected.Load())
}

func TestSession_FailedConnectStaysIdle(t *testing.T) {
	useTestLogger(t)
	sdk := initializedSDK(t)
	events := &sessionEvents{errors: make(chan Message, 1)}
	handle, err := sdk.NewSession("key", "room", events.callbacks())
	require.NoError(t, err)
	session := handle.(*Session)

	// A connect that failed after the peer connection was wired up.
	api, err := sdk.newAPI(synthpub.DefaultAudioSettings())
	require.NoError(t, err)
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	require.True(t, session.state.CompareAndSwap(int32(sessionIdle), int32(sessionConnecting)))
	session.mu.Lock()
	session.pc = pc
	session.mu.Unlock()
	pc.OnConnectionStateChange(session.onConnectionStateChange)

	session.failConnect()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, events.disconnected.Load(), "failed connect reported a disconnect")
	assert.Equal(t, sessionIdle, session.currentState())
	assert.Equal(t, ErrNotConnected, session.Disconnect())
}
