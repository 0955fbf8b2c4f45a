// Package chuffs implements the Internet of Chuffs streaming client: it
// captures stereo PCM audio from a local sound device, compresses each
// 20 ms block with the NICAM-like URTP codec and streams the datagrams
// to a remote server over TCP, reconnecting whenever the server's timing
// channel says the link has gone quiet.
//
// Example:
//
//	options := chuffs.NewOptions()
//	options.ServerAddress = "chuffs.example.com:5065"
//	options.DeviceName = "hw:1,0"
//
//	client, err := chuffs.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client.OnWatchdogKick(func() {
//	    // feed the hardware watchdog
//	})
//	client.OnNowStreaming(func() {
//	    // toggle the activity LED
//	})
//
//	if err := client.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Stop()
package chuffs

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chuffnet/chuffs/audio"
	"github.com/chuffnet/chuffs/stream"
	"github.com/chuffnet/chuffs/transport"
	"github.com/chuffnet/chuffs/urtp"
)

// Options contains the configuration of a streaming client. Use
// NewOptions for the defaults; every field except OpenDevice maps onto
// a configuration file key in package config.
type Options struct {
	// ServerAddress is the streaming server as host:port. Empty means
	// discover one on the LAN via mDNS.
	ServerAddress string

	// DeviceName is the ALSA capture device, e.g. "hw:1,0".
	DeviceName string

	// SamplingFrequency is the capture rate in Hz.
	SamplingFrequency int

	// BlockDurationMs is the amount of audio per datagram.
	BlockDurationMs int

	// MaxNumDatagrams is the depth of the datagram ring.
	MaxNumDatagrams int

	// AudioMaxShiftBits caps the gain control shift, 0..12.
	AudioMaxShiftBits int

	// DesiredUnusedBits is the gain control headroom target.
	DesiredUnusedBits int

	// ShiftHysteresisBits is the gain increase dead band.
	ShiftHysteresisBits int

	// UpShiftsForAShift smooths gain increases over this many blocks.
	UpShiftsForAShift int

	// UnicamCodedSampleSizeBits is the UNICAM sample width on the wire.
	// Only 8 is supported.
	UnicamCodedSampleSizeBits int

	// UnicamMaxDecodedSampleSizeBits is the reconstructed sample width.
	// Only 16 is supported.
	UnicamMaxDecodedSampleSizeBits int

	// DisableUnicam switches the uplink to raw 16 bit PCM coding.
	DisableUnicam bool

	// TCPSendTimeoutMs is the wall clock budget per datagram send.
	TCPSendTimeoutMs int

	// MaxDurationSocketErrorsMs is how long a run of send failures may
	// last before it is called out in the log.
	MaxDurationSocketErrorsMs int

	// TCPBufferSizeBytes is the kernel send buffer, kept small so
	// queueing shows up as latency here rather than in the network
	// stack.
	TCPBufferSizeBytes int

	// ServerLinkEstablishmentWaitS bounds the wait for the first
	// timing datagram after connecting.
	ServerLinkEstablishmentWaitS int

	// TimingDatagramAgeS is the staleness window for echoed sequence
	// numbers.
	TimingDatagramAgeS int

	// TimingDatagramWaitS is how many second-long scans without a
	// timing datagram are tolerated before the link is declared down.
	TimingDatagramWaitS int

	// CaptureTapPath, when set, records captured audio to a WAV file
	// for diagnosis.
	CaptureTapPath string

	// OpenDevice overrides the capture device factory, mainly for
	// diagnostics (tone, ramp) and tests. Nil means ALSA.
	OpenDevice func() (audio.Device, error)
}

// NewOptions returns the default streaming configuration: 16 kHz, 20 ms
// blocks, UNICAM coding, a 5 second ring.
func NewOptions() *Options {
	return &Options{
		SamplingFrequency:              urtp.DefaultSamplingFrequency,
		BlockDurationMs:                int(urtp.DefaultBlockDuration / time.Millisecond),
		MaxNumDatagrams:                urtp.DefaultMaxDatagrams,
		AudioMaxShiftBits:              urtp.DefaultAudioMaxShiftBits,
		DesiredUnusedBits:              urtp.DefaultDesiredUnusedBits,
		ShiftHysteresisBits:            urtp.DefaultShiftHysteresis,
		UpShiftsForAShift:              urtp.DefaultUpShiftsForAShift,
		UnicamCodedSampleSizeBits:      urtp.UnicamCodedSampleSizeBits,
		UnicamMaxDecodedSampleSizeBits: urtp.UnicamMaxDecodedSampleSizeBits,
		TCPSendTimeoutMs:               int(transport.DefaultSendTimeout / time.Millisecond),
		MaxDurationSocketErrorsMs:      int(stream.DefaultMaxSocketErrorsTime / time.Millisecond),
		TCPBufferSizeBytes:             transport.DefaultSendBufferBytes,
		ServerLinkEstablishmentWaitS:   int(stream.DefaultEstablishWait / time.Second),
		TimingDatagramAgeS:             int(stream.DefaultTimingDatagramAge / time.Second),
		TimingDatagramWaitS:            stream.DefaultTimingDatagramWait,
	}
}

// sessionConfig maps the flat options onto a session configuration.
func (o *Options) sessionConfig() (stream.Config, error) {
	if o.UnicamCodedSampleSizeBits != urtp.UnicamCodedSampleSizeBits {
		return stream.Config{}, fmt.Errorf("%w: only %d bit UNICAM is supported",
			urtp.ErrUnsupportedCoding, urtp.UnicamCodedSampleSizeBits)
	}
	if o.UnicamMaxDecodedSampleSizeBits != urtp.UnicamMaxDecodedSampleSizeBits {
		return stream.Config{}, fmt.Errorf("%w: only %d bit decoded samples are supported",
			urtp.ErrUnsupportedCoding, urtp.UnicamMaxDecodedSampleSizeBits)
	}

	coding := urtp.CodingUnicamCompressed8Bit
	if o.DisableUnicam {
		coding = urtp.CodingPCMSigned16Bit
	}

	return stream.Config{
		ServerAddress:  o.ServerAddress,
		DeviceName:     o.DeviceName,
		OpenDevice:     o.OpenDevice,
		CaptureTapPath: o.CaptureTapPath,
		Codec: urtp.Config{
			SamplingFrequency:   o.SamplingFrequency,
			BlockDuration:       time.Duration(o.BlockDurationMs) * time.Millisecond,
			Coding:              coding,
			MaxDatagrams:        o.MaxNumDatagrams,
			AudioMaxShiftBits:   o.AudioMaxShiftBits,
			DesiredUnusedBits:   o.DesiredUnusedBits,
			ShiftHysteresisBits: o.ShiftHysteresisBits,
			UpShiftsForAShift:   o.UpShiftsForAShift,
		},
		Transport: transport.Config{
			SendTimeout:     time.Duration(o.TCPSendTimeoutMs) * time.Millisecond,
			SendBufferBytes: o.TCPBufferSizeBytes,
		},
		EstablishWait:       time.Duration(o.ServerLinkEstablishmentWaitS) * time.Second,
		MaxSocketErrorsTime: time.Duration(o.MaxDurationSocketErrorsMs) * time.Millisecond,
		TimingDatagramAge:   time.Duration(o.TimingDatagramAgeS) * time.Second,
		TimingDatagramWait:  o.TimingDatagramWaitS,
	}, nil
}

// Client runs streaming sessions against the server, tearing down and
// reconnecting whenever the liveness monitor reports the link gone.
type Client struct {
	opts Options
	cbs  stream.Callbacks

	mu      sync.Mutex
	session *stream.Session

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  bool
}

// New validates the options and builds a client. No I/O happens until
// Start.
func New(opts *Options) (*Client, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if _, err := opts.sessionConfig(); err != nil {
		return nil, err
	}
	return &Client{
		opts: *opts,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}, nil
}

// OnWatchdogKick installs the watchdog callback, invoked from the send
// stage on every successful datagram and every idle wake. Install
// callbacks before Start.
func (c *Client) OnWatchdogKick(cb func()) {
	c.cbs.WatchdogKick = cb
}

// OnNowStreaming installs the activity callback, invoked after every
// successfully sent datagram while the server link is confirmed.
func (c *Client) OnNowStreaming(cb func()) {
	c.cbs.NowStreaming = cb
}

// OnDatagramReady installs a hook fired whenever the encoder finishes a
// datagram. Treat it as a wake signal only.
func (c *Client) OnDatagramReady(cb func(datagram []byte)) {
	c.cbs.DatagramReady = cb
}

// OnDatagramOverflow installs the ring overflow hooks: start fires when
// a run of overwrites begins, stop fires when it ends with the number of
// datagrams lost.
func (c *Client) OnDatagramOverflow(start func(), stop func(count int)) {
	c.cbs.OverflowStart = start
	c.cbs.OverflowStop = stop
}

// Start launches the streaming loop in the background: run a session,
// watch its link flag once a second, tear down and reconnect when the
// flag drops. Start returns immediately.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("chuffs: client already started")
	}
	c.started = true

	go c.run()
	return nil
}

// run is the client's supervision loop.
func (c *Client) run() {
	defer close(c.done)

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		if err := c.runSession(); err != nil {
			logrus.WithError(err).Warn("session failed, retrying")
		}

		// Breathe between sessions, feeding the watchdog.
		c.kickWatchdog()
		select {
		case <-c.stop:
			return
		case <-time.After(time.Second):
		}
	}
}

// runSession brings one session up and babysits it until its link drops
// or the client is stopped.
func (c *Client) runSession() error {
	cfg, err := c.opts.sessionConfig()
	if err != nil {
		return err
	}

	session, err := stream.NewSession(cfg, c.cbs)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	defer func() {
		session.Teardown()
		c.mu.Lock()
		c.session = nil
		c.mu.Unlock()
	}()

	if err := session.Start(); err != nil {
		return err
	}

	// The once-a-second check: a dropped link means full teardown and
	// a fresh session.
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-c.stop:
			return nil
		case <-tick.C:
			c.kickWatchdog()
			if !session.AudioCommsConnected() {
				logrus.WithField("session", session.ID()).
					Warn("server link down, reconnecting")
				return nil
			}
		}
	}
}

// kickWatchdog feeds the watchdog callback if one is installed.
func (c *Client) kickWatchdog() {
	if c.cbs.WatchdogKick != nil {
		c.cbs.WatchdogKick()
	}
}

// IsStreaming reports whether the current session has a confirmed
// application level link to the server.
func (c *Client) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil && c.session.AudioCommsConnected()
}

// Stats returns a snapshot of the current session's diagnostic counters,
// or a zero snapshot between sessions.
func (c *Client) Stats() stream.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return stream.Snapshot{}
	}
	return c.session.Stats().Snapshot()
}

// Stop ends the streaming loop and tears the current session down. It
// blocks until everything has joined and is safe to call more than
// once.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.stopOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		session := c.session
		c.mu.Unlock()
		if session != nil {
			session.Teardown()
		}
	})
	<-c.done
	logrus.Info("streaming client stopped")
}
