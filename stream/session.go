package stream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/chuffnet/chuffs/audio"
	"github.com/chuffnet/chuffs/transport"
	"github.com/chuffnet/chuffs/urtp"
)

// Defaults for session timing parameters.
const (
	DefaultEstablishWait        = 5 * time.Second
	DefaultRunAnywayTime        = 2 * time.Second
	DefaultMaxSocketErrorsTime  = 3 * time.Second
	DefaultTimingDatagramAge    = 15 * time.Second
	DefaultTimingDatagramWait   = 5
	DefaultMonitorScanBudget    = time.Second
	DefaultMonitorPollInterval  = 100 * time.Millisecond
	DefaultDisconnectedIdleTime = time.Second
)

// Config assembles everything a session needs. Zero duration fields fall
// back to the defaults above.
type Config struct {
	// ServerAddress is "host:port". Empty means browse the LAN for an
	// advertised server.
	ServerAddress string

	// DeviceName is the capture device ("hw:0,0" style). Ignored when
	// OpenDevice is set.
	DeviceName string

	// OpenDevice overrides how the capture device is obtained. Nil
	// means ALSA with DeviceName.
	OpenDevice func() (audio.Device, error)

	// CaptureTapPath, when set, records the captured mono audio to a
	// WAV file for diagnosis.
	CaptureTapPath string

	// Codec is the URTP codec configuration.
	Codec urtp.Config

	// Transport tunes the stream socket.
	Transport transport.Config

	// EstablishWait bounds how long session start waits for the
	// application level link to come up before handing control back.
	EstablishWait time.Duration

	// RunAnywayTime is the send stage's wait timeout, so the stop
	// signal is polled even when no datagrams arrive.
	RunAnywayTime time.Duration

	// MaxSocketErrorsTime is how long a run of send failures may last
	// before it is called out.
	MaxSocketErrorsTime time.Duration

	// TimingDatagramAge is the acceptance window for echoed sequence
	// numbers: a timing datagram older than this much audio is stale.
	TimingDatagramAge time.Duration

	// TimingDatagramWait is how many empty monitor scans are tolerated
	// before the link is declared down.
	TimingDatagramWait int

	// MonitorScanBudget bounds one monitor scan; MonitorPollInterval is
	// the short read timeout inside it.
	MonitorScanBudget   time.Duration
	MonitorPollInterval time.Duration

	// Time is the clock source; nil means the system clock.
	Time TimeProvider
}

// Callbacks are the upstream hooks of one session. All are optional and
// must be light: they run on pipeline goroutines.
type Callbacks struct {
	// WatchdogKick is invoked from the send stage on every successful
	// datagram and every idle wake, and from the supervisor while
	// waiting for the link.
	WatchdogKick func()

	// NowStreaming is invoked after every successfully sent datagram
	// while the application level link is up.
	NowStreaming func()

	// DatagramReady, OverflowStart and OverflowStop pass through the
	// codec's ring events.
	DatagramReady func(datagram []byte)
	OverflowStart func()
	OverflowStop  func(count int)
}

// Session is one bring-up of capture, encode, send and monitor against
// one server connection. It ends when Teardown runs; sessions are not
// reusable.
type Session struct {
	id  string
	cfg Config
	cbs Callbacks

	codec  *urtp.Codec
	conn   *transport.Conn
	device audio.Device
	tap    *audio.Tap

	// ready wakes the send stage when a datagram lands in the ring.
	ready chan struct{}
	stop  chan struct{}

	tcpConnected        atomic.Bool
	audioCommsConnected atomic.Bool

	stats Stats

	stopOnce sync.Once
	stages   []stage
}

// stage pairs a name with the wait handle of one pipeline goroutine so
// teardown can join them in reverse spawn order.
type stage struct {
	name string
	done chan struct{}
}

// NewSession validates cfg, builds the codec and fills in defaults. No
// I/O happens until Start.
func NewSession(cfg Config, cbs Callbacks) (*Session, error) {
	if cfg.EstablishWait <= 0 {
		cfg.EstablishWait = DefaultEstablishWait
	}
	if cfg.RunAnywayTime <= 0 {
		cfg.RunAnywayTime = DefaultRunAnywayTime
	}
	if cfg.MaxSocketErrorsTime <= 0 {
		cfg.MaxSocketErrorsTime = DefaultMaxSocketErrorsTime
	}
	if cfg.TimingDatagramAge <= 0 {
		cfg.TimingDatagramAge = DefaultTimingDatagramAge
	}
	if cfg.TimingDatagramWait <= 0 {
		cfg.TimingDatagramWait = DefaultTimingDatagramWait
	}
	if cfg.MonitorScanBudget <= 0 {
		cfg.MonitorScanBudget = DefaultMonitorScanBudget
	}
	if cfg.MonitorPollInterval <= 0 {
		cfg.MonitorPollInterval = DefaultMonitorPollInterval
	}
	cfg.Time = timeProviderOrDefault(cfg.Time)

	s := &Session{
		id:    uuid.New().String(),
		cfg:   cfg,
		cbs:   cbs,
		ready: make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}

	codecCfg := cfg.Codec
	if codecCfg.Clock == nil {
		tp := cfg.Time
		codecCfg.Clock = func() int64 { return microseconds(tp) }
	}
	codec, err := urtp.New(codecCfg, urtp.Callbacks{
		DatagramReady: s.onDatagramReady,
		OverflowStart: cbs.OverflowStart,
		OverflowStop:  cbs.OverflowStop,
	})
	if err != nil {
		return nil, err
	}
	s.codec = codec

	return s, nil
}

// onDatagramReady posts the send stage's wake signal and forwards the
// event upstream.
func (s *Session) onDatagramReady(datagram []byte) {
	select {
	case s.ready <- struct{}{}:
	default:
	}
	if s.cbs.DatagramReady != nil {
		s.cbs.DatagramReady(datagram)
	}
}

// ID returns the session's identifier, used in log fields.
func (s *Session) ID() string {
	return s.id
}

// TCPConnected reports the transport level flag.
func (s *Session) TCPConnected() bool {
	return s.tcpConnected.Load()
}

// AudioCommsConnected reports the application level flag owned by the
// liveness monitor.
func (s *Session) AudioCommsConnected() bool {
	return s.audioCommsConnected.Load()
}

// Stats exposes the session's diagnostic counters.
func (s *Session) Stats() *Stats {
	return &s.stats
}

// QueuedDatagrams reports the ring depth, for diagnostics.
func (s *Session) QueuedDatagrams() int {
	return s.codec.DatagramsAvailable()
}

// Start resolves the server, connects and conditions the socket, opens
// the capture device and launches the pipeline stages, then waits up to
// EstablishWait for the application level link to come up, pumping the
// watchdog meanwhile. A link that has not come up by then is not an
// error: the owner's supervision loop re-checks the flag and tears the
// session down if it stays false.
func (s *Session) Start() error {
	log := logrus.WithField("session", s.id)

	// RESOLVING
	addr := s.cfg.ServerAddress
	var err error
	if addr == "" {
		log.Info("no server configured, browsing the LAN")
		addr, err = transport.Discover(3 * time.Second)
	} else {
		resolver := &transport.Resolver{Timeout: 5 * time.Second}
		addr, err = resolver.Resolve(addr)
	}
	if err != nil {
		return fmt.Errorf("stream: resolve: %w", err)
	}

	// CONNECTING
	conn, err := transport.Dial(addr, s.cfg.Transport)
	if err != nil {
		return fmt.Errorf("stream: connect: %w", err)
	}
	s.conn = conn
	s.tcpConnected.Store(true)

	if err := s.openCapture(); err != nil {
		s.Teardown()
		return err
	}

	// RUNNING
	s.spawn("monitor", s.monitorLoop)
	s.spawn("capture-encode", s.captureEncodeLoop)
	s.spawn("send", s.sendLoop)

	log.WithField("server", addr).Info("session running, waiting for server link")
	wait := s.cfg.Time.NewTicker(time.Second)
	defer wait.Stop()
	deadline := s.cfg.Time.Now().Add(s.cfg.EstablishWait)
	for !s.audioCommsConnected.Load() && s.cfg.Time.Now().Before(deadline) {
		s.kickWatchdog()
		select {
		case <-wait.C:
		case <-s.stop:
			return nil
		}
	}
	if s.audioCommsConnected.Load() {
		log.Info("server link established")
	} else {
		log.Warn("server link not yet confirmed, continuing anyway")
	}
	return nil
}

// openCapture opens the capture device and the optional diagnostic tap.
func (s *Session) openCapture() error {
	open := s.cfg.OpenDevice
	if open == nil {
		name := s.cfg.DeviceName
		cfg := s.cfg.Codec
		open = func() (audio.Device, error) {
			return audio.OpenALSA(name, cfg.SamplingFrequency, cfg.SamplesPerBlock())
		}
	}
	device, err := open()
	if err != nil {
		return fmt.Errorf("stream: open capture: %w", err)
	}
	s.device = device

	if s.cfg.CaptureTapPath != "" {
		tap, err := audio.NewTap(s.cfg.CaptureTapPath, s.cfg.Codec.SamplingFrequency)
		if err != nil {
			logrus.WithError(err).Warn("capture tap unavailable")
		} else {
			s.tap = tap
		}
	}
	return nil
}

// spawn launches one stage goroutine and records its join handle.
func (s *Session) spawn(name string, body func()) {
	done := make(chan struct{})
	s.stages = append(s.stages, stage{name: name, done: done})
	go func() {
		defer close(done)
		body()
	}()
}

// kickWatchdog feeds the external watchdog if one is installed.
func (s *Session) kickWatchdog() {
	if s.cbs.WatchdogKick != nil {
		s.cbs.WatchdogKick()
	}
}

// stopped reports whether the stop signal has been raised, without
// blocking.
func (s *Session) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Teardown stops the stages, closes the socket and the capture device
// and joins the goroutines in reverse spawn order. It is safe to call on
// a partially started session and safe to call more than once.
func (s *Session) Teardown() {
	// The once makes concurrent and repeated teardowns safe: later
	// callers block until the first one has fully joined the stages.
	s.stopOnce.Do(func() {
		close(s.stop)

		// Closing the socket and device aborts blocked reads and
		// writes so the stages observe the stop signal promptly.
		if s.conn != nil {
			s.conn.Close()
		}
		if s.device != nil {
			s.device.Close()
		}

		for i := len(s.stages) - 1; i >= 0; i-- {
			<-s.stages[i].done
			logrus.WithFields(logrus.Fields{
				"session": s.id,
				"stage":   s.stages[i].name,
			}).Debug("stage stopped")
		}
		s.stages = nil

		if s.tap != nil {
			if err := s.tap.Close(); err != nil {
				logrus.WithError(err).Warn("capture tap close failed")
			}
			s.tap = nil
		}

		s.tcpConnected.Store(false)
		s.audioCommsConnected.Store(false)

		logrus.WithField("session", s.id).Info("session torn down")
	})
}
