package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// Defaults for Config fields.
const (
	DefaultSendTimeout     = 1500 * time.Millisecond
	DefaultWriteTimeout    = time.Second
	DefaultDialTimeout     = 10 * time.Second
	DefaultSendBufferBytes = 25000
)

// Config tunes the stream socket for real-time sending: no Nagle
// batching and a small kernel send buffer so a stalling link shows up as
// send latency here rather than as queueing out of sight.
type Config struct {
	// SendTimeout is the wall clock budget for delivering one whole
	// datagram, short-write retries included.
	SendTimeout time.Duration

	// WriteTimeout bounds each individual socket write.
	WriteTimeout time.Duration

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// SendBufferBytes is the kernel send buffer size.
	SendBufferBytes int
}

// DefaultConfig returns the standard streaming socket tuning.
func DefaultConfig() Config {
	return Config{
		SendTimeout:     DefaultSendTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		DialTimeout:     DefaultDialTimeout,
		SendBufferBytes: DefaultSendBufferBytes,
	}
}

// Conn is the stream connection to the server. Send is used by the send
// stage, ReadTimeout by the liveness monitor; Close aborts both.
type Conn struct {
	tcp *net.TCPConn
	cfg Config
}

// Dial connects to addr (host:port, already resolved) and applies the
// socket conditioning.
func Dial(addr string, cfg Config) (*Conn, error) {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.SendBufferBytes <= 0 {
		cfg.SendBufferBytes = DefaultSendBufferBytes
	}

	conn, err := net.DialTimeout("tcp", addr, cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("transport: connect %s: %w", addr, err)
	}
	tcp := conn.(*net.TCPConn)

	if err := tcp.SetNoDelay(true); err != nil {
		tcp.Close()
		return nil, fmt.Errorf("transport: set TCP_NODELAY: %w", err)
	}
	if err := tcp.SetWriteBuffer(cfg.SendBufferBytes); err != nil {
		tcp.Close()
		return nil, fmt.Errorf("transport: set send buffer: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"server":      addr,
		"send_buffer": cfg.SendBufferBytes,
	}).Info("stream socket connected")

	return &Conn{tcp: tcp, cfg: cfg}, nil
}

// Send writes the whole of data, looping over short writes, within the
// configured wall clock deadline. It returns the bytes that made it out
// and an error when that is fewer than len(data). A write to a peer that
// has gone surfaces as an EPIPE-class error return, never a signal; the
// runtime takes care of SIGPIPE on sockets.
func (c *Conn) Send(data []byte) (int, error) {
	if c == nil || c.tcp == nil {
		return 0, ErrNotConnected
	}

	start := time.Now()
	count := 0
	for count < len(data) {
		remaining := c.cfg.SendTimeout - time.Since(start)
		if remaining <= 0 {
			logrus.WithField("unsent", len(data)-count).Warn("send deadline exceeded")
			return count, ErrSendTimeout
		}

		writeBudget := c.cfg.WriteTimeout
		if writeBudget > remaining {
			writeBudget = remaining
		}
		if err := c.tcp.SetWriteDeadline(time.Now().Add(writeBudget)); err != nil {
			return count, fmt.Errorf("transport: set write deadline: %w", err)
		}

		n, err := c.tcp.Write(data[count:])
		count += n
		if err != nil {
			if IsTimeout(err) {
				// A stalled write inside the overall budget: try the
				// remainder again.
				continue
			}
			return count, fmt.Errorf("transport: send: %w", err)
		}
	}
	return count, nil
}

// ReadTimeout reads whatever is available into buf, waiting at most d.
// A deadline expiry returns n == 0 and a timeout error; use IsTimeout to
// tell it apart from a dead socket.
func (c *Conn) ReadTimeout(buf []byte, d time.Duration) (int, error) {
	if c == nil || c.tcp == nil {
		return 0, ErrNotConnected
	}
	if err := c.tcp.SetReadDeadline(time.Now().Add(d)); err != nil {
		return 0, fmt.Errorf("transport: set read deadline: %w", err)
	}
	return c.tcp.Read(buf)
}

// RemoteAddr reports the peer address, or empty when not connected.
func (c *Conn) RemoteAddr() string {
	if c == nil || c.tcp == nil {
		return ""
	}
	return c.tcp.RemoteAddr().String()
}

// Close tears the socket down; in-flight Send and ReadTimeout calls on
// other goroutines error out promptly.
func (c *Conn) Close() error {
	if c == nil || c.tcp == nil {
		return nil
	}
	err := c.tcp.Close()
	logrus.Info("stream socket closed")
	return err
}
