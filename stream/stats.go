package stream

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Stats are the advisory diagnostic counters of one session. They are
// updated from several goroutines with relaxed atomics; exact
// cross-counter consistency is not promised.
type Stats struct {
	bytesSent          atomic.Uint64
	datagrams          atomic.Uint64
	sendFailures       atomic.Uint64
	sendDurationMsSum  atomic.Uint64
	sendsOverBlockTime atomic.Uint64
	peakSendDurationMs atomic.Int64
	overruns           atomic.Uint64
	underruns          atomic.Uint64
	roundTripMicros    atomic.Int64

	// throughputWindow accumulates bytes between monitor ticks.
	throughputWindow atomic.Uint64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	BytesSent          uint64
	Datagrams          uint64
	SendFailures       uint64
	AvgSendDurationMs  uint64
	SendsOverBlockTime uint64
	PeakSendDurationMs int64
	CaptureOverruns    uint64
	CaptureUnderruns   uint64
	RoundTripMicros    int64
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() Snapshot {
	n := s.datagrams.Load()
	avg := uint64(0)
	if n > 0 {
		avg = s.sendDurationMsSum.Load() / n
	}
	return Snapshot{
		BytesSent:          s.bytesSent.Load(),
		Datagrams:          n,
		SendFailures:       s.sendFailures.Load(),
		AvgSendDurationMs:  avg,
		SendsOverBlockTime: s.sendsOverBlockTime.Load(),
		PeakSendDurationMs: s.peakSendDurationMs.Load(),
		CaptureOverruns:    s.overruns.Load(),
		CaptureUnderruns:   s.underruns.Load(),
		RoundTripMicros:    s.roundTripMicros.Load(),
	}
}

// recordSend accounts one datagram send attempt.
func (s *Stats) recordSend(bytes int, durationMs int64, blockDurationMs int64, ok bool) {
	s.datagrams.Add(1)
	s.sendDurationMsSum.Add(uint64(durationMs))
	if !ok {
		s.sendFailures.Add(1)
	} else {
		s.bytesSent.Add(uint64(bytes))
		s.throughputWindow.Add(uint64(bytes))
	}
	if durationMs > blockDurationMs {
		s.sendsOverBlockTime.Add(1)
	}
	for {
		peak := s.peakSendDurationMs.Load()
		if durationMs <= peak {
			return
		}
		if s.peakSendDurationMs.CompareAndSwap(peak, durationMs) {
			logrus.WithField("duration_ms", durationMs).Info("new peak datagram send duration")
			return
		}
	}
}

// logThroughput emits the per-second monitor line and resets the window,
// skipping quiet seconds.
func (s *Stats) logThroughput(queued int) {
	bytes := s.throughputWindow.Swap(0)
	if bytes == 0 {
		return
	}
	logrus.WithFields(logrus.Fields{
		"throughput_bits_s": bytes << 3,
		"datagrams_queued":  queued,
	}).Debug("uplink throughput")
}
