package rtc

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
)

// MessageType identifies a signaling message.
type MessageType string

const (
	MessageOffer     MessageType = "offer"
	MessageAnswer    MessageType = "answer"
	MessageCandidate MessageType = "candidate"
	MessageError     MessageType = "error"
	MessageBye       MessageType = "bye"
)

// Message is one JSON signaling message.
type Message struct {
	Type      MessageType              `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Message   string                   `json:"message,omitempty"`
	Code      int                      `json:"code,omitempty"`
}

const signalingWriteTimeout = 5 * time.Second

// SessionURL returns the signaling endpoint of sessionID under base.
func SessionURL(base, sessionID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrap(err, "parse signaling url")
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported signaling scheme %q", u.Scheme)
	}
	escaped := strings.TrimSuffix(u.EscapedPath(), "/") + "/sessions/" + url.PathEscape(sessionID)
	u.Path = strings.TrimSuffix(u.Path, "/") + "/sessions/" + sessionID
	u.RawPath = escaped
	return u.String(), nil
}

// signalingConn is a WebSocket signaling channel. Writes are serialized;
// reads happen on a single goroutine.
type signalingConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func dialSignaling(ctx context.Context, base, sessionID, apiKey, token string) (*signalingConn, error) {
	target, err := SessionURL(base, sessionID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("X-Api-Key", apiKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s: %s", target, resp.Status)
		}
		return nil, errors.Wrapf(err, "dial %s", target)
	}
	return &signalingConn{conn: conn}, nil
}

func (c *signalingConn) Send(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(signalingWriteTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		return errors.Wrapf(err, "send %s", msg.Type)
	}
	return nil
}

func (c *signalingConn) Read() (Message, error) {
	var msg Message
	if err := c.conn.ReadJSON(&msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// Close sends a close frame and closes the connection.
func (c *signalingConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
