package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsRecordSend(t *testing.T) {
	var s Stats

	s.recordSend(344, 5, 20, true)
	s.recordSend(344, 30, 20, true)
	s.recordSend(100, 12, 20, false)

	snap := s.Snapshot()
	assert.Equal(t, uint64(688), snap.BytesSent, "failed sends contribute no bytes")
	assert.Equal(t, uint64(3), snap.Datagrams)
	assert.Equal(t, uint64(1), snap.SendFailures)
	assert.Equal(t, uint64(1), snap.SendsOverBlockTime)
	assert.Equal(t, int64(30), snap.PeakSendDurationMs)
	assert.Equal(t, uint64(15), snap.AvgSendDurationMs, "(5+30+12)/3")
}

func TestStatsPeakOnlyRises(t *testing.T) {
	var s Stats

	s.recordSend(1, 50, 20, true)
	s.recordSend(1, 10, 20, true)

	assert.Equal(t, int64(50), s.Snapshot().PeakSendDurationMs)
}

func TestStatsThroughputWindowResets(t *testing.T) {
	var s Stats

	s.recordSend(344, 1, 20, true)
	assert.Equal(t, uint64(344), s.throughputWindow.Load())

	s.logThroughput(7)
	assert.Zero(t, s.throughputWindow.Load(), "logging drains the window")

	// A quiet second logs nothing and stays at zero.
	s.logThroughput(0)
	assert.Zero(t, s.throughputWindow.Load())
}

func TestStatsZeroSnapshot(t *testing.T) {
	var s Stats
	snap := s.Snapshot()
	assert.Zero(t, snap.Datagrams)
	assert.Zero(t, snap.AvgSendDurationMs, "no division by zero on an idle session")
}
