package stream

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/chuffnet/chuffs/audio"
)

// captureEncodeLoop is the merged capture and encode stage: it blocks in
// the device read, and on every full block drives the encoder exactly
// once. Capture and encode run in lockstep, so one shared block buffer
// is enough.
func (s *Session) captureEncodeLoop() {
	log := logrus.WithFields(logrus.Fields{
		"session": s.id,
		"stage":   "capture-encode",
	})

	frames := s.cfg.Codec.SamplesPerBlock()
	rawAudio := make([]uint32, frames*2)
	tapFailed := false

	for !s.stopped() {
		n, err := s.device.ReadBlock(rawAudio)
		switch {
		case errors.Is(err, audio.ErrOverrun):
			// The hardware lapped us; the block is gone. Reset the
			// device and carry on.
			s.stats.overruns.Add(1)
			log.Warn("capture overrun")
			if err := s.device.Prepare(); err != nil {
				log.WithError(err).Error("capture recovery failed")
			}
		case errors.Is(err, audio.ErrClosed):
			return
		case err != nil:
			if s.stopped() {
				return
			}
			log.WithError(err).Error("capture read failed")
		case n != frames:
			// A short read is an underrun; the partial data is
			// discarded.
			s.stats.underruns.Add(1)
			log.WithField("frames", n).Warn("capture underrun")
		default:
			if s.tap != nil && !tapFailed {
				if err := s.tap.WriteBlock(rawAudio); err != nil {
					tapFailed = true
					log.WithError(err).Warn("capture tap write failed, tap disabled")
				}
			}
			if err := s.codec.CodeAudioBlock(rawAudio); err != nil {
				log.WithError(err).Error("encode failed")
			}
		}
	}
}
