package rtc

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/thesyncim/synthpub"
)

// Error codes reported through SessionCallbacks.OnError for failures that
// originate locally. Codes sent by the signaling server are passed through.
const (
	CodeNegotiationFailed = 1001
	CodeSignalingFailed   = 1002
)

type sessionState int32

const (
	sessionIdle sessionState = iota
	sessionConnecting
	sessionConnected
	sessionClosed
)

func (s sessionState) String() string {
	switch s {
	case sessionIdle:
		return "idle"
	case sessionConnecting:
		return "connecting"
	case sessionConnected:
		return "connected"
	case sessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is a synthpub.Session backed by one peer connection.
type Session struct {
	sdk       *SDK
	apiKey    string
	id        string
	callbacks synthpub.SessionCallbacks
	log       *logrus.Entry

	state atomic.Int32

	mu         sync.Mutex
	pc         *webrtc.PeerConnection
	signaling  *signalingConn
	audioTrack *Track
	videoTrack *Track
	audio      synthpub.AudioSettings
	published  *Publisher
	streamID   string

	// Local candidates gathered before the offer was sent
	offerSent       bool
	localCandidates []webrtc.ICECandidateInit

	audioMu  sync.Mutex
	audioBuf []byte

	rtcp RTCPStats

	closeOnce sync.Once
	closeErr  error
}

func newSession(sdk *SDK, apiKey, id string, callbacks synthpub.SessionCallbacks) *Session {
	return &Session{
		sdk:       sdk,
		apiKey:    apiKey,
		id:        id,
		callbacks: callbacks,
		log:       synthpub.NewComponentLogger("rtc.Session").WithField("session", id),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// RTCPStats returns the feedback counters of the session's senders.
func (s *Session) RTCPStats() *RTCPStats { return &s.rtcp }

func (s *Session) currentState() sessionState { return sessionState(s.state.Load()) }

// Connect dials the signaling server, creates the peer connection and sends
// the offer. OnConnected fires once the peer connection is up.
func (s *Session) Connect(token string) error {
	if !s.state.CompareAndSwap(int32(sessionIdle), int32(sessionConnecting)) {
		if s.currentState() == sessionClosed {
			return ErrClosed
		}
		return ErrAlreadyConnected
	}
	if err := s.connect(token); err != nil {
		s.failConnect()
		return err
	}
	return nil
}

// failConnect undoes a failed connect and returns the session to idle.
func (s *Session) failConnect() {
	s.abortConnect()
	s.state.CompareAndSwap(int32(sessionConnecting), int32(sessionIdle))
}

func (s *Session) connect(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.sdk.config.ConnectTimeout)
	defer cancel()

	sig, err := dialSignaling(ctx, s.sdk.config.SignalingURL, s.id, s.apiKey, token)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.signaling = sig
	s.mu.Unlock()

	audio := s.sdk.audioSettings()
	api, err := s.sdk.newAPI(audio)
	if err != nil {
		return err
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: s.sdk.config.ICEServers})
	if err != nil {
		return errors.Wrap(err, "new peer connection")
	}

	streamID := "synthpub-" + uuid.NewString()
	audioTrack := NewTrack(AudioCodec(audio).RTPCodecCapability, "audio-"+uuid.NewString(), streamID,
		s.sdk.config.MTU, func() rtp.Payloader { return &L16Payloader{} })
	videoTrack := NewTrack(VideoCodec().RTPCodecCapability, "video-"+uuid.NewString(), streamID,
		s.sdk.config.MTU, func() rtp.Payloader { return &RawVideoPayloader{} })

	s.mu.Lock()
	s.pc = pc
	s.audioTrack = audioTrack
	s.videoTrack = videoTrack
	s.audio = audio
	s.mu.Unlock()

	for _, track := range []*Track{audioTrack, videoTrack} {
		tr, err := pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendonly,
		})
		if err != nil {
			return errors.Wrapf(err, "add %s transceiver", track.Kind())
		}
		go readRTCP(s.log, &s.rtcp, tr.Sender(), track.Kind())
	}

	pc.OnICECandidate(s.onICECandidate)
	pc.OnConnectionStateChange(s.onConnectionStateChange)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return errors.Wrap(err, "create offer")
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return errors.Wrap(err, "set local description")
	}
	if err := sig.Send(Message{Type: MessageOffer, SDP: offer.SDP}); err != nil {
		return err
	}

	s.mu.Lock()
	s.offerSent = true
	pending := s.localCandidates
	s.localCandidates = nil
	s.mu.Unlock()
	for i := range pending {
		if err := sig.Send(Message{Type: MessageCandidate, Candidate: &pending[i]}); err != nil {
			s.log.WithError(err).Warn("could not send candidate")
		}
	}

	go s.readSignaling(sig, pc)

	s.log.Debug("offer sent")
	return nil
}

// abortConnect releases whatever a failed connect created.
func (s *Session) abortConnect() {
	s.mu.Lock()
	pc, sig := s.pc, s.signaling
	s.pc, s.signaling = nil, nil
	s.audioTrack, s.videoTrack = nil, nil
	s.offerSent = false
	s.localCandidates = nil
	s.mu.Unlock()

	if pc != nil {
		// Closing fires the state handler; the session was never up.
		pc.OnConnectionStateChange(func(webrtc.PeerConnectionState) {})
		if err := pc.Close(); err != nil {
			s.log.WithError(err).Debug("close peer connection")
		}
	}
	if sig != nil {
		_ = sig.Close()
	}
}

func (s *Session) onICECandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	init := c.ToJSON()

	s.mu.Lock()
	sig := s.signaling
	if !s.offerSent {
		s.localCandidates = append(s.localCandidates, init)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if sig == nil {
		return
	}
	if err := sig.Send(Message{Type: MessageCandidate, Candidate: &init}); err != nil {
		s.log.WithError(err).Warn("could not send candidate")
	}
}

func (s *Session) onConnectionStateChange(state webrtc.PeerConnectionState) {
	s.log.WithField("state", state).Debug("peer connection state")

	switch state {
	case webrtc.PeerConnectionStateConnected:
		if s.state.CompareAndSwap(int32(sessionConnecting), int32(sessionConnected)) {
			s.log.Info("session connected")
			if s.callbacks.OnConnected != nil {
				s.callbacks.OnConnected()
			}
		}
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		_ = s.teardown(false)
	}
}

func (s *Session) readSignaling(sig *signalingConn, pc *webrtc.PeerConnection) {
	var pending []webrtc.ICECandidateInit

	for {
		msg, err := sig.Read()
		if err != nil {
			if s.currentState() != sessionClosed {
				s.log.WithError(err).Warn("signaling connection lost")
				s.notifyError("signaling connection lost", CodeSignalingFailed)
				_ = s.teardown(false)
			}
			return
		}

		switch msg.Type {
		case MessageAnswer:
			err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP})
			if err != nil {
				s.log.WithError(err).Error("could not apply answer")
				s.notifyError(err.Error(), CodeNegotiationFailed)
				continue
			}
			for _, c := range pending {
				if err := pc.AddICECandidate(c); err != nil {
					s.log.WithError(err).Warn("could not add candidate")
				}
			}
			pending = nil

		case MessageCandidate:
			if msg.Candidate == nil {
				continue
			}
			if pc.RemoteDescription() == nil {
				pending = append(pending, *msg.Candidate)
				continue
			}
			if err := pc.AddICECandidate(*msg.Candidate); err != nil {
				s.log.WithError(err).Warn("could not add candidate")
			}

		case MessageError:
			s.notifyError(msg.Message, msg.Code)

		case MessageBye:
			s.log.Info("remote ended the session")
			_ = s.teardown(false)
			return

		default:
			s.log.WithField("type", msg.Type).Debug("ignoring signaling message")
		}
	}
}

func (s *Session) notifyError(message string, code int) {
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(message, code)
	}
}

// Disconnect implements synthpub.Session.
func (s *Session) Disconnect() error {
	switch s.currentState() {
	case sessionConnecting, sessionConnected:
	default:
		return ErrNotConnected
	}
	return s.teardown(true)
}

// Close implements synthpub.Session.
func (s *Session) Close() error {
	if s.currentState() == sessionIdle {
		s.closeOnce.Do(func() { s.state.Store(int32(sessionClosed)) })
		return nil
	}
	return s.teardown(true)
}

// teardown stops any published stream, closes the transport and fires
// OnDisconnected if the session had been connecting or connected. Only the
// first call has an effect.
func (s *Session) teardown(sendBye bool) error {
	s.closeOnce.Do(func() {
		prev := sessionState(s.state.Swap(int32(sessionClosed)))

		var result *multierror.Error
		if err := s.unpublishCurrent(); err != nil {
			result = multierror.Append(result, err)
		}

		s.mu.Lock()
		pc, sig := s.pc, s.signaling
		s.mu.Unlock()

		if sig != nil {
			if sendBye {
				if err := sig.Send(Message{Type: MessageBye}); err != nil {
					s.log.WithError(err).Debug("could not send bye")
				}
			}
			if err := sig.Close(); err != nil {
				s.log.WithError(err).Debug("close signaling")
			}
		}
		if pc != nil {
			if err := pc.Close(); err != nil {
				result = multierror.Append(result, errors.Wrap(err, "close peer connection"))
			}
		}

		s.closeErr = result.ErrorOrNil()

		if prev == sessionConnecting || prev == sessionConnected {
			s.log.Info("session disconnected")
			if s.callbacks.OnDisconnected != nil {
				s.callbacks.OnDisconnected()
			}
		}
	})
	return s.closeErr
}

// Publish implements synthpub.Session. It starts the audio device and the
// publisher's video capturer and reports the new stream.
func (s *Session) Publish(handle synthpub.PublisherHandle) error {
	p, ok := handle.(*Publisher)
	if !ok || p.sdk != s.sdk {
		return ErrForeignPublisher
	}
	if p.closed.Load() {
		return ErrClosed
	}
	if s.currentState() != sessionConnected {
		return ErrNotConnected
	}

	s.mu.Lock()
	if s.published != nil {
		s.mu.Unlock()
		return ErrAlreadyPublished
	}
	streamID := uuid.NewString()
	s.published = p
	s.streamID = streamID
	s.mu.Unlock()

	p.attach(s)
	s.sdk.setActive(s)

	if d := s.sdk.device(); d != nil {
		if err := d.callbacks.StartCapturer(); err != nil {
			s.rollbackPublish(p)
			return errors.Wrap(err, "start audio capturer")
		}
	}
	if err := p.capturer.Start(); err != nil {
		s.rollbackPublish(p)
		return errors.Wrap(err, "start video capturer")
	}

	s.log.WithFields(logrus.Fields{"publisher": p.name, "stream": streamID}).Info("stream created")
	if p.callbacks.OnStreamCreated != nil {
		p.callbacks.OnStreamCreated(streamID)
	}
	return nil
}

func (s *Session) rollbackPublish(p *Publisher) {
	s.mu.Lock()
	if s.published == p {
		s.published = nil
		s.streamID = ""
	}
	s.mu.Unlock()
	if err := s.stopPublisher(p, ""); err != nil {
		s.log.WithError(err).Warn("error rolling back publish")
	}
}

// Unpublish implements synthpub.Session.
func (s *Session) Unpublish(handle synthpub.PublisherHandle) error {
	p, ok := handle.(*Publisher)
	if !ok || p.sdk != s.sdk {
		return ErrForeignPublisher
	}

	s.mu.Lock()
	if s.published != p {
		s.mu.Unlock()
		return ErrNotPublished
	}
	streamID := s.streamID
	s.published = nil
	s.streamID = ""
	s.mu.Unlock()

	return s.stopPublisher(p, streamID)
}

func (s *Session) unpublishCurrent() error {
	s.mu.Lock()
	p, streamID := s.published, s.streamID
	s.published = nil
	s.streamID = ""
	s.mu.Unlock()

	if p == nil {
		return nil
	}
	return s.stopPublisher(p, streamID)
}

// stopPublisher destroys the capturers, which joins their workers, before
// detaching the publisher so no unit is written after this returns.
func (s *Session) stopPublisher(p *Publisher, streamID string) error {
	var result *multierror.Error
	if err := p.capturer.Destroy(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "destroy video capturer"))
	}
	if d := s.sdk.device(); d != nil {
		if err := d.callbacks.DestroyCapturer(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "destroy audio capturer"))
		}
	}

	p.detach(s)
	s.sdk.clearActive(s)

	if streamID != "" {
		s.log.WithFields(logrus.Fields{"publisher": p.name, "stream": streamID}).Info("stream destroyed")
		if p.callbacks.OnStreamDestroyed != nil {
			p.callbacks.OnStreamDestroyed(streamID)
		}
	}
	return result.ErrorOrNil()
}

func (s *Session) writeAudio(samples []int16) error {
	s.mu.Lock()
	track, channels := s.audioTrack, s.audio.ChannelCount
	s.mu.Unlock()
	if track == nil {
		return ErrNotConnected
	}
	if channels <= 0 {
		channels = 1
	}

	s.audioMu.Lock()
	defer s.audioMu.Unlock()
	s.audioBuf = EncodeL16(s.audioBuf[:0], samples)
	return track.WriteUnit(s.audioBuf, uint32(len(samples)/channels))
}

func (s *Session) writeVideo(frame *synthpub.VideoFrame, ticks uint32) error {
	s.mu.Lock()
	track := s.videoTrack
	s.mu.Unlock()
	if track == nil {
		return ErrNotConnected
	}
	return track.WriteUnit(frame.Data, ticks)
}
