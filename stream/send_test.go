package stream

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendStageDeliversDatagramsInOrder(t *testing.T) {
	s, peer := newLoopbackSession(t, nil)
	size := s.codec.DatagramSize()

	encodeBlocks(t, s, 3)
	s.spawn("send", s.sendLoop)

	got := make([]byte, size*3)
	peer.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, err := io.ReadFull(peer, got)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		d := got[i*size : (i+1)*size]
		assert.Equal(t, byte(0x5A), d[0], "datagram %d sync", i)
		assert.Equal(t, byte(i), d[3], "datagram %d sequence", i)
	}

	eventually(t, 2*time.Second, func() bool { return s.codec.DatagramsAvailable() == 0 },
		"sent datagrams must be released")

	snap := s.stats.Snapshot()
	assert.Equal(t, uint64(size*3), snap.BytesSent)
	assert.Equal(t, uint64(3), snap.Datagrams)
	assert.Zero(t, snap.SendFailures)
}

func TestSendStageKeepsDatagramOnFailure(t *testing.T) {
	s, peer := newLoopbackSession(t, func(cfg *Config) {
		cfg.Transport.SendTimeout = 100 * time.Millisecond
		cfg.Transport.WriteTimeout = 50 * time.Millisecond
	})

	// Kill the transport before anything is sent.
	peer.Close()
	s.conn.Close()

	encodeBlocks(t, s, 1)
	s.spawn("send", s.sendLoop)

	eventually(t, 2*time.Second, func() bool { return s.stats.Snapshot().SendFailures >= 1 },
		"the send must fail")
	assert.Equal(t, 1, s.codec.DatagramsAvailable(),
		"a failed datagram keeps its container for the next attempt")
}

func TestSendStagePumpsWatchdogWhileDisconnected(t *testing.T) {
	var kicks atomic.Int64

	s, _ := newLoopbackSession(t, nil)
	s.cbs.WatchdogKick = func() { kicks.Add(1) }
	s.tcpConnected.Store(false)

	s.spawn("send", s.sendLoop)

	eventually(t, 3*time.Second, func() bool { return kicks.Load() >= 1 },
		"idle sender must feed the watchdog")
}

func TestSendStageFiresNowStreamingOnlyWhenLinkUp(t *testing.T) {
	var streaming atomic.Int64

	s, peer := newLoopbackSession(t, nil)
	s.cbs.NowStreaming = func() { streaming.Add(1) }

	go func() {
		// Keep draining so sends never block.
		buf := make([]byte, 4096)
		for {
			if _, err := peer.Read(buf); err != nil {
				return
			}
		}
	}()

	// Link down: datagrams flow but the callback stays quiet.
	encodeBlocks(t, s, 2)
	s.spawn("send", s.sendLoop)
	eventually(t, 2*time.Second, func() bool { return s.codec.DatagramsAvailable() == 0 },
		"datagrams must drain")
	assert.Zero(t, streaming.Load())

	// Link up: every success reports streaming.
	s.audioCommsConnected.Store(true)
	encodeBlocks(t, s, 2)
	eventually(t, 2*time.Second, func() bool { return streaming.Load() >= 2 },
		"now-streaming must fire once the link is up")
}
