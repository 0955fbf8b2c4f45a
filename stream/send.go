package stream

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chuffnet/chuffs/transport"
)

// sendLoop is the send stage: it drains ready datagrams from the ring
// and writes each to the server within the send deadline. A datagram
// that fails to send keeps its container, so the same data is offered
// again on the next pass of this session. The ring belongs to the
// session's codec: a reconnect starts a new session with an empty ring,
// and datagrams still queued at teardown are not resent.
//
// A run of failures is tracked from its first timestamp; lasting longer
// than MaxSocketErrorsTime, or hitting a fatal socket errno, is called
// out here but recovery is the liveness monitor's call: it owns the
// application level flag and the supervisor reacts to that, never to the
// sender.
func (s *Session) sendLoop() {
	log := logrus.WithFields(logrus.Fields{
		"session": s.id,
		"stage":   "send",
	})

	blockMs := s.cfg.Codec.BlockDuration.Milliseconds()
	badStarted := false
	var badStart time.Time

	for !s.stopped() {
		if !s.tcpConnected.Load() {
			// Nothing to send to; idle gently and keep the watchdog
			// alive.
			s.kickWatchdog()
			select {
			case <-s.stop:
				return
			case <-time.After(DefaultDisconnectedIdleTime):
			}
			continue
		}

		// Wait for a datagram, or run anyway so the stop signal is
		// seen within RunAnywayTime.
		wake := s.cfg.Time.NewTimer(s.cfg.RunAnywayTime)
		select {
		case <-s.stop:
			wake.Stop()
			return
		case <-s.ready:
			wake.Stop()
		case <-wake.C:
		}
		s.kickWatchdog()

		for datagram := s.codec.GetDatagram(); datagram != nil; datagram = s.codec.GetDatagram() {
			start := s.cfg.Time.Now()
			n, err := s.conn.Send(datagram)
			durationMs := s.cfg.Time.Now().Sub(start).Milliseconds()

			ok := err == nil && n == len(datagram)
			s.stats.recordSend(n, durationMs, blockMs, ok)

			if ok {
				badStarted = false
				s.codec.SetDatagramAsRead(datagram)
				s.kickWatchdog()
				if s.cbs.NowStreaming != nil && s.audioCommsConnected.Load() {
					s.cbs.NowStreaming()
				}
				if s.stopped() {
					return
				}
				continue
			}

			// Failure: the container stays READING so the next
			// attempt resends this datagram.
			now := s.cfg.Time.Now()
			if !badStarted {
				badStarted = true
				badStart = now
			} else if now.Sub(badStart) > s.cfg.MaxSocketErrorsTime {
				log.WithFields(logrus.Fields{
					"duration_ms": now.Sub(badStart).Milliseconds(),
				}).Error("socket errors for too long")
			}
			if transport.IsFatal(err) {
				log.WithError(err).Error("socket bad")
			} else {
				log.WithError(err).Warn("datagram send failed")
			}
			// Back off to the wait so a dead socket is not hammered.
			break
		}
	}
}
