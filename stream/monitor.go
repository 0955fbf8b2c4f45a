package stream

import (
	"encoding/binary"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chuffnet/chuffs/transport"
	"github.com/chuffnet/chuffs/urtp"
)

// TimingDatagramSize is the wire size of one downlink timing datagram:
// sync byte, echoed 16 bit sequence number, echoed 64 bit microsecond
// timestamp.
const TimingDatagramSize = 11

// monitorLoop is the liveness monitor. The server echoes one timing
// datagram per second, quoting the sequence number and timestamp of an
// uplink datagram it has received. A fresh echo proves end to end
// delivery and yields the round trip delay; a stale echo means the
// transport is buffering, and silence means the link is gone. In both
// bad cases the monitor drops the application level flag and leaves the
// socket alone: teardown is the supervisor's job.
func (s *Session) monitorLoop() {
	log := logrus.WithFields(logrus.Fields{
		"session": s.id,
		"stage":   "monitor",
	})

	// The age window in datagrams: how far behind the last emitted
	// sequence number an echo may lag before it counts as stale.
	window := int(s.cfg.TimingDatagramAge / s.cfg.Codec.BlockDuration)
	noValid := 0

	for !s.stopped() {
		sequence, timestamp, ok := s.scanTimingDatagram()
		if s.stopped() {
			return
		}

		if !ok {
			noValid++
			if noValid > s.cfg.TimingDatagramWait {
				if s.audioCommsConnected.Swap(false) {
					log.Warn("no timing datagram from server, link down")
				}
				noValid = 0
			}
			continue
		}

		// The echo carries 16 bits; compare against the low 16 bits of
		// the last emitted sequence, modulo 2^16.
		last := s.codec.SequenceNumber() - 1
		lag := (last - int(sequence)) & 0xFFFF
		if last < 0 || lag >= window {
			// Too old: the uplink is buffering somewhere. Stale
			// confirmation is no confirmation.
			if s.audioCommsConnected.Swap(false) {
				log.WithFields(logrus.Fields{
					"echoed_sequence": sequence,
					"lag_datagrams":   lag,
					"window":          window,
				}).Warn("timing datagram too old, link down")
			}
			noValid = 0
			continue
		}

		noValid = 0
		roundTrip := microseconds(s.cfg.Time) - timestamp
		s.stats.roundTripMicros.Store(roundTrip)
		if !s.audioCommsConnected.Swap(true) {
			log.WithField("round_trip_us", roundTrip).Info("server link confirmed")
		}

		s.stats.logThroughput(s.codec.DatagramsAvailable())
	}
}

// scanTimingDatagram tries to read one whole timing datagram within the
// scan budget: resync on the sync byte, then collect the remaining bytes
// with short bounded reads. It returns ok=false when no complete frame
// arrived inside the budget.
func (s *Session) scanTimingDatagram() (sequence uint16, timestamp int64, ok bool) {
	deadline := s.cfg.Time.Now().Add(s.cfg.MonitorScanBudget)
	var frame [TimingDatagramSize]byte

	// Resync: discard bytes until the sync byte appears.
	for {
		if s.stopped() || !s.cfg.Time.Now().Before(deadline) {
			return 0, 0, false
		}
		n, err := s.conn.ReadTimeout(frame[:1], s.cfg.MonitorPollInterval)
		if err != nil && !transport.IsTimeout(err) {
			// A dead socket fails instantly; pace the retry so this
			// loop does not spin while waiting for the supervisor.
			time.Sleep(s.cfg.MonitorPollInterval)
			return 0, 0, false
		}
		if n == 1 {
			if frame[0] == urtp.SyncByte {
				break
			}
			logrus.WithField("byte", frame[0]).Debug("discarding byte while seeking sync")
		}
	}

	// Collect the body with repeated short reads inside the budget.
	got := 1
	for got < TimingDatagramSize {
		if s.stopped() || !s.cfg.Time.Now().Before(deadline) {
			return 0, 0, false
		}
		n, err := s.conn.ReadTimeout(frame[got:], s.cfg.MonitorPollInterval)
		got += n
		if err != nil && !transport.IsTimeout(err) {
			return 0, 0, false
		}
	}

	sequence = binary.BigEndian.Uint16(frame[1:3])
	timestamp = int64(binary.BigEndian.Uint64(frame[3:11]))
	return sequence, timestamp, true
}
