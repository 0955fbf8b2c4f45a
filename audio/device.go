package audio

import "errors"

// Errors reported by capture devices.
var (
	// ErrOverrun indicates the hardware ran out of buffer space before
	// the reader caught up (an XRUN). Recover with Prepare and read
	// again; the lost block is gone.
	ErrOverrun = errors.New("audio: capture overrun")

	// ErrClosed indicates a read on a closed device.
	ErrClosed = errors.New("audio: device closed")
)

// Device is a blocking source of raw audio blocks.
//
// Implementations deliver interleaved stereo frames, each channel a
// signed 32 bit little-endian word with the 24 bit sample in the upper
// bits, at the sampling frequency agreed at open time.
type Device interface {
	// ReadBlock blocks until it has filled buf, which must hold an even
	// number of 32 bit words (stereo frames), and returns the number of
	// frames read. A short return means an underrun: the partial data
	// should be discarded. ErrOverrun signals an XRUN.
	ReadBlock(buf []uint32) (int, error)

	// Prepare recovers the device after an overrun.
	Prepare() error

	// Close releases the device. Further reads return ErrClosed.
	Close() error
}
