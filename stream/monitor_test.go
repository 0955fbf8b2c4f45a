package stream

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuffnet/chuffs/audio"
	"github.com/chuffnet/chuffs/transport"
	"github.com/chuffnet/chuffs/urtp"
)

// newLoopbackSession builds a session wired to a loopback TCP peer, with
// monitor timings shortened so tests run quickly. It returns the peer
// side of the connection.
func newLoopbackSession(t *testing.T, mutate func(*Config)) (*Session, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	cfg := Config{
		ServerAddress: ln.Addr().String(),
		Codec:         urtp.DefaultConfig(),
		Transport:     transport.DefaultConfig(),
		OpenDevice: func() (audio.Device, error) {
			return audio.NewToneDevice(16000, true), nil
		},
		MonitorScanBudget:   200 * time.Millisecond,
		MonitorPollInterval: 10 * time.Millisecond,
		RunAnywayTime:       100 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := NewSession(cfg, Callbacks{})
	require.NoError(t, err)

	conn, err := transport.Dial(ln.Addr().String(), cfg.Transport)
	require.NoError(t, err)
	s.conn = conn
	s.tcpConnected.Store(true)
	t.Cleanup(s.Teardown)

	peer := <-accepted
	t.Cleanup(func() { peer.Close() })
	return s, peer
}

// timingFrame builds one downlink timing datagram.
func timingFrame(sequence uint16, timestamp int64) []byte {
	frame := make([]byte, TimingDatagramSize)
	frame[0] = urtp.SyncByte
	binary.BigEndian.PutUint16(frame[1:3], sequence)
	binary.BigEndian.PutUint64(frame[3:11], uint64(timestamp))
	return frame
}

// encodeBlocks pushes n silent blocks through the session's codec.
func encodeBlocks(t *testing.T, s *Session, n int) {
	t.Helper()
	block := make([]uint32, s.cfg.Codec.SamplesPerBlock()*2)
	for i := 0; i < n; i++ {
		require.NoError(t, s.codec.CodeAudioBlock(block))
	}
}

// eventually polls cond for up to timeout.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestMonitorConfirmsLinkOnFreshEcho(t *testing.T) {
	s, peer := newLoopbackSession(t, nil)
	encodeBlocks(t, s, 5)

	s.spawn("monitor", s.monitorLoop)

	sent := time.Now().UTC().UnixMicro() - 2000
	_, err := peer.Write(timingFrame(4, sent))
	require.NoError(t, err)

	eventually(t, 2*time.Second, s.AudioCommsConnected, "link never confirmed")
	assert.GreaterOrEqual(t, s.stats.roundTripMicros.Load(), int64(2000),
		"round trip includes the simulated delay")
}

func TestMonitorRejectsStaleEcho(t *testing.T) {
	s, peer := newLoopbackSession(t, nil)
	encodeBlocks(t, s, 3)
	s.audioCommsConnected.Store(true)

	s.spawn("monitor", s.monitorLoop)

	// The default window is 15s / 20ms = 750 datagrams; an echo lagging
	// 1000 behind the last emitted sequence is stale.
	last := uint16(s.codec.SequenceNumber() - 1)
	stale := last - 1000
	_, err := peer.Write(timingFrame(stale, time.Now().UTC().UnixMicro()))
	require.NoError(t, err)

	eventually(t, 2*time.Second, func() bool { return !s.AudioCommsConnected() },
		"stale echo must drop the link")
}

func TestMonitorDropsLinkOnSilence(t *testing.T) {
	s, _ := newLoopbackSession(t, func(cfg *Config) {
		cfg.MonitorScanBudget = 50 * time.Millisecond
		cfg.TimingDatagramWait = 2
	})
	encodeBlocks(t, s, 1)
	s.audioCommsConnected.Store(true)

	s.spawn("monitor", s.monitorLoop)

	// Three empty scans of 50ms each must trip the link well inside a
	// second.
	eventually(t, 2*time.Second, func() bool { return !s.AudioCommsConnected() },
		"silence must drop the link")
}

func TestMonitorResyncsOnGarbage(t *testing.T) {
	s, peer := newLoopbackSession(t, nil)
	encodeBlocks(t, s, 5)

	s.spawn("monitor", s.monitorLoop)

	garbage := []byte{0x00, 0xFF, 0x17, 0x42}
	frame := timingFrame(4, time.Now().UTC().UnixMicro())
	_, err := peer.Write(append(garbage, frame...))
	require.NoError(t, err)

	eventually(t, 2*time.Second, s.AudioCommsConnected,
		"monitor must resync on the sync byte")
}

func TestMonitorRecoversAfterSilence(t *testing.T) {
	s, peer := newLoopbackSession(t, func(cfg *Config) {
		cfg.MonitorScanBudget = 50 * time.Millisecond
		cfg.TimingDatagramWait = 2
	})
	encodeBlocks(t, s, 5)
	s.audioCommsConnected.Store(true)

	s.spawn("monitor", s.monitorLoop)

	eventually(t, 2*time.Second, func() bool { return !s.AudioCommsConnected() },
		"silence must drop the link first")

	// A fresh echo brings the link straight back.
	_, err := peer.Write(timingFrame(4, time.Now().UTC().UnixMicro()))
	require.NoError(t, err)

	eventually(t, 2*time.Second, s.AudioCommsConnected,
		"fresh echo must restore the link")
}
