package rtc

import (
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// RTCPStats counts the feedback received for a session's senders.
type RTCPStats struct {
	PictureLoss     atomic.Uint64
	Nacks           atomic.Uint64
	ReceiverReports atomic.Uint64
}

// readRTCP drains feedback for sender until it is stopped. Reading is
// required for the interceptors to process incoming RTCP.
func readRTCP(log *logrus.Entry, stats *RTCPStats, sender *webrtc.RTPSender, kind webrtc.RTPCodecType) {
	log = log.WithField("kind", kind)
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			switch p := pkt.(type) {
			case *rtcp.PictureLossIndication:
				stats.PictureLoss.Inc()
				log.WithField("ssrc", p.MediaSSRC).Debug("picture loss indication")
			case *rtcp.TransportLayerNack:
				stats.Nacks.Inc()
				log.WithFields(logrus.Fields{
					"ssrc":  p.MediaSSRC,
					"pairs": len(p.Nacks),
				}).Debug("nack")
			case *rtcp.ReceiverReport:
				stats.ReceiverReports.Inc()
				for _, r := range p.Reports {
					log.WithFields(logrus.Fields{
						"ssrc":          r.SSRC,
						"fraction_lost": r.FractionLost,
						"total_lost":    r.TotalLost,
						"jitter":        r.Jitter,
					}).Debug("receiver report")
				}
			}
		}
	}
}
