package chuffs

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuffnet/chuffs/audio"
	"github.com/chuffnet/chuffs/urtp"
)

// echoServer accepts streaming clients one after another, consumes their
// URTP datagrams and echoes each one's sequence and timestamp back as a
// timing datagram, which is what keeps a real client's link alive.
type echoServer struct {
	ln   net.Listener
	size int

	mu      sync.Mutex
	current net.Conn
	closed  bool
}

func startEchoServer(t *testing.T) *echoServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	es := &echoServer{ln: ln, size: urtp.DefaultConfig().DatagramSize()}
	go es.acceptLoop()
	t.Cleanup(es.Close)
	return es
}

func (es *echoServer) Addr() string { return es.ln.Addr().String() }

func (es *echoServer) acceptLoop() {
	for {
		conn, err := es.ln.Accept()
		if err != nil {
			return
		}
		es.mu.Lock()
		es.current = conn
		es.mu.Unlock()
		es.echo(conn)
	}
}

func (es *echoServer) echo(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, es.size)
	for {
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		if _, err := io.ReadFull(conn, buf); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				es.mu.Lock()
				closed := es.closed
				es.mu.Unlock()
				if closed {
					return
				}
				continue
			}
			return
		}

		echo := make([]byte, 11)
		echo[0] = urtp.SyncByte
		copy(echo[1:3], buf[2:4])
		copy(echo[3:11], buf[4:12])
		if _, err := conn.Write(echo); err != nil {
			return
		}
	}
}

// DropClient severs the current connection, simulating a network
// outage; the listener keeps accepting so the client can reconnect.
func (es *echoServer) DropClient() {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.current != nil {
		es.current.Close()
		es.current = nil
	}
}

func (es *echoServer) Close() {
	es.mu.Lock()
	es.closed = true
	if es.current != nil {
		es.current.Close()
	}
	es.mu.Unlock()
	es.ln.Close()
}

// testOptions returns client options wired to the echo server with a
// paced tone generator standing in for the sound card.
func testOptions(addr string) *Options {
	opts := NewOptions()
	opts.ServerAddress = addr
	opts.ServerLinkEstablishmentWaitS = 2
	opts.TimingDatagramWaitS = 1
	opts.OpenDevice = func() (audio.Device, error) {
		return audio.NewToneDevice(16000, true), nil
	}
	return opts
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNewOptionsDefaults(t *testing.T) {
	opts := NewOptions()

	assert.Equal(t, 16000, opts.SamplingFrequency)
	assert.Equal(t, 20, opts.BlockDurationMs)
	assert.Equal(t, 250, opts.MaxNumDatagrams)
	assert.Equal(t, 12, opts.AudioMaxShiftBits)
	assert.Equal(t, 4, opts.DesiredUnusedBits)
	assert.Equal(t, 3, opts.ShiftHysteresisBits)
	assert.Equal(t, 500, opts.UpShiftsForAShift)
	assert.Equal(t, 8, opts.UnicamCodedSampleSizeBits)
	assert.Equal(t, 16, opts.UnicamMaxDecodedSampleSizeBits)
	assert.Equal(t, 1500, opts.TCPSendTimeoutMs)
	assert.Equal(t, 3000, opts.MaxDurationSocketErrorsMs)
	assert.Equal(t, 25000, opts.TCPBufferSizeBytes)
	assert.Equal(t, 5, opts.ServerLinkEstablishmentWaitS)
	assert.Equal(t, 15, opts.TimingDatagramAgeS)
	assert.Equal(t, 5, opts.TimingDatagramWaitS)
	assert.False(t, opts.DisableUnicam)
}

func TestNewRejectsUnsupportedUnicamWidth(t *testing.T) {
	opts := NewOptions()
	opts.UnicamCodedSampleSizeBits = 10

	_, err := New(opts)
	assert.ErrorIs(t, err, urtp.ErrUnsupportedCoding)

	opts = NewOptions()
	opts.UnicamMaxDecodedSampleSizeBits = 24
	_, err = New(opts)
	assert.ErrorIs(t, err, urtp.ErrUnsupportedCoding)
}

func TestClientStreamsEndToEnd(t *testing.T) {
	es := startEchoServer(t)

	client, err := New(testOptions(es.Addr()))
	require.NoError(t, err)

	require.NoError(t, client.Start())
	defer client.Stop()

	waitFor(t, 10*time.Second, client.IsStreaming, "client never reached streaming state")

	waitFor(t, 5*time.Second, func() bool { return client.Stats().Datagrams >= 5 },
		"datagrams must keep flowing")
	assert.Positive(t, client.Stats().BytesSent)
}

func TestClientReconnectsAfterOutage(t *testing.T) {
	es := startEchoServer(t)

	client, err := New(testOptions(es.Addr()))
	require.NoError(t, err)

	require.NoError(t, client.Start())
	defer client.Stop()

	waitFor(t, 10*time.Second, client.IsStreaming, "initial link never came up")

	// Outage: the monitor loses its timing datagrams, flips the flag
	// and the supervision loop reconnects to the listening server.
	es.DropClient()
	waitFor(t, 10*time.Second, func() bool { return !client.IsStreaming() },
		"outage must drop the streaming state")

	waitFor(t, 15*time.Second, client.IsStreaming, "client must reconnect and stream again")
}

func TestClientStartStop(t *testing.T) {
	es := startEchoServer(t)

	client, err := New(testOptions(es.Addr()))
	require.NoError(t, err)

	require.NoError(t, client.Start())
	assert.Error(t, client.Start(), "a second start must be rejected")

	client.Stop()
	client.Stop() // idempotent
	assert.False(t, client.IsStreaming())
}

func TestStopBeforeStart(t *testing.T) {
	client, err := New(NewOptions())
	require.NoError(t, err)
	client.Stop()
}
