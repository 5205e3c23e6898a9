package rtc

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/thesyncim/synthpub"
)

// Publisher is a synthpub.PublisherHandle. Its video capturer writes into the
// session it is published in.
type Publisher struct {
	sdk       *SDK
	id        string
	name      string
	capturer  synthpub.VideoCapturerCallbacks
	callbacks synthpub.PublisherCallbacks
	log       *logrus.Entry

	// RTP clock ticks per frame
	frameTicks uint32

	session atomic.Pointer[Session]
	closed  atomic.Bool
}

func newPublisher(sdk *SDK, name string, capturer synthpub.VideoCapturerCallbacks, callbacks synthpub.PublisherCallbacks) *Publisher {
	settings := synthpub.DefaultVideoSettings()
	if capturer.CaptureSettings != nil {
		settings = capturer.CaptureSettings()
	}
	fps := settings.FPS
	if fps <= 0 {
		fps = 1
	}
	id := uuid.NewString()
	return &Publisher{
		sdk:        sdk,
		id:         id,
		name:       name,
		capturer:   capturer,
		callbacks:  callbacks,
		log:        synthpub.NewComponentLogger("rtc.Publisher").WithFields(logrus.Fields{"publisher": name, "id": id}),
		frameTicks: uint32(VideoClockRate / fps),
	}
}

// ID returns the publisher's unique identifier.
func (p *Publisher) ID() string { return p.id }

// Name returns the name the publisher was created with.
func (p *Publisher) Name() string { return p.name }

// Close implements synthpub.PublisherHandle. A publisher still published is
// unpublished first.
func (p *Publisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s := p.session.Load(); s != nil {
		if err := s.Unpublish(p); err != nil && err != ErrNotPublished {
			p.log.WithError(err).Warn("unpublish on close")
			return err
		}
	}
	p.log.Debug("publisher released")
	return nil
}

func (p *Publisher) attach(s *Session) {
	p.session.Store(s)
}

func (p *Publisher) detach(s *Session) {
	p.session.CompareAndSwap(s, nil)
}

func (p *Publisher) writeVideo(frame *synthpub.VideoFrame) error {
	if p.closed.Load() {
		return ErrClosed
	}
	s := p.session.Load()
	if s == nil {
		return ErrNoActiveStream
	}
	return s.writeVideo(frame, p.frameTicks)
}
