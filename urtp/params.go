package urtp

import (
	"fmt"
	"time"
)

// Coding identifies the audio coding scheme carried in a datagram body.
type Coding byte

const (
	// CodingPCMSigned16Bit is raw big-endian signed 16 bit mono PCM.
	CodingPCMSigned16Bit Coding = 0
	// CodingUnicamCompressed8Bit is the NICAM-like 8 bit compression.
	CodingUnicamCompressed8Bit Coding = 1
)

// String returns a human readable name for the coding scheme.
func (c Coding) String() string {
	switch c {
	case CodingPCMSigned16Bit:
		return "pcm-signed-16-bit"
	case CodingUnicamCompressed8Bit:
		return "unicam-compressed-8-bit"
	default:
		return fmt.Sprintf("coding(%d)", byte(c))
	}
}

const (
	// SyncByte opens every URTP datagram and every downlink timing
	// datagram, allowing a receiver to resync on a byte stream.
	SyncByte byte = 0x5A

	// HeaderSize is the size of the URTP datagram header in bytes.
	HeaderSize = 14

	// UnicamCodedSampleSizeBits is the number of bits a UNICAM sample is
	// coded into. Only 8 is supported.
	UnicamCodedSampleSizeBits = 8

	// UnicamMaxDecodedSampleSizeBits is the largest sample the decoder
	// is expected to reconstruct.
	UnicamMaxDecodedSampleSizeBits = 16

	// AudioShiftThreshold: samples whose magnitude is within this value
	// are not gain shifted. Zero disables thresholding.
	AudioShiftThreshold = 0
)

// Defaults for Config fields.
const (
	DefaultSamplingFrequency = 16000
	DefaultBlockDuration     = 20 * time.Millisecond
	DefaultMaxDatagrams      = 250
	DefaultAudioMaxShiftBits = 12
	DefaultDesiredUnusedBits = 4
	DefaultShiftHysteresis   = 3
	DefaultUpShiftsForAShift = 500
)

// Config carries the parameters of a codec instance. The zero value is not
// usable; start from DefaultConfig.
type Config struct {
	// SamplingFrequency is the capture rate in Hz.
	SamplingFrequency int

	// BlockDuration is the amount of audio encoded into one datagram.
	BlockDuration time.Duration

	// Coding selects the body coding scheme.
	Coding Coding

	// MaxDatagrams is the number of containers in the datagram ring.
	MaxDatagrams int

	// AudioMaxShiftBits caps the gain shift (0..12 valid).
	AudioMaxShiftBits int

	// DesiredUnusedBits is the amplitude headroom the gain control aims
	// to keep.
	DesiredUnusedBits int

	// ShiftHysteresisBits is the dead band applied before a gain
	// increase is considered.
	ShiftHysteresisBits int

	// UpShiftsForAShift is the number of consecutive blocks suggesting
	// more gain before one extra shift bit is actually applied.
	UpShiftsForAShift int

	// Clock returns the current UTC time in microseconds. Left nil the
	// system clock is used. Injectable for deterministic tests.
	Clock func() int64
}

// DefaultConfig returns a Config holding the standard streaming
// parameters: 16 kHz, 20 ms blocks, UNICAM coding, a 250 datagram ring.
func DefaultConfig() Config {
	return Config{
		SamplingFrequency:   DefaultSamplingFrequency,
		BlockDuration:       DefaultBlockDuration,
		Coding:              CodingUnicamCompressed8Bit,
		MaxDatagrams:        DefaultMaxDatagrams,
		AudioMaxShiftBits:   DefaultAudioMaxShiftBits,
		DesiredUnusedBits:   DefaultDesiredUnusedBits,
		ShiftHysteresisBits: DefaultShiftHysteresis,
		UpShiftsForAShift:   DefaultUpShiftsForAShift,
	}
}

// SamplesPerBlock is the number of mono samples (stereo frames) in one
// block.
func (c Config) SamplesPerBlock() int {
	return c.SamplingFrequency * int(c.BlockDuration/time.Millisecond) / 1000
}

// SamplesPerUnicamBlock is the number of samples in one UNICAM sub-block
// (1 ms of audio).
func (c Config) SamplesPerUnicamBlock() int {
	return c.SamplingFrequency / 1000
}

// UnicamBlocksPerBlock is the number of UNICAM sub-blocks per datagram.
func (c Config) UnicamBlocksPerBlock() int {
	return c.SamplesPerBlock() / c.SamplesPerUnicamBlock()
}

// twoUnicamBlocksSize is the wire size of a pair of UNICAM sub-blocks:
// their samples plus the shared shift byte.
func (c Config) twoUnicamBlocksSize() int {
	return c.SamplesPerUnicamBlock()*UnicamCodedSampleSizeBits/8*2 + 1
}

// BodySize is the number of body bytes produced for one block with the
// configured coding.
func (c Config) BodySize() int {
	if c.Coding == CodingPCMSigned16Bit {
		return 2 * c.SamplesPerBlock()
	}
	return c.UnicamBlocksPerBlock() / 2 * c.twoUnicamBlocksSize()
}

// DatagramSize is the full wire size of one datagram, header included.
func (c Config) DatagramSize() int {
	return HeaderSize + c.BodySize()
}

// validate reports the first problem with the configuration.
func (c Config) validate() error {
	if c.SamplingFrequency <= 0 || c.SamplingFrequency%1000 != 0 {
		return fmt.Errorf("%w: sampling frequency %d Hz must be a positive multiple of 1000", ErrBadConfig, c.SamplingFrequency)
	}
	if c.BlockDuration < time.Millisecond || c.BlockDuration%time.Millisecond != 0 {
		return fmt.Errorf("%w: block duration %v must be a whole number of milliseconds", ErrBadConfig, c.BlockDuration)
	}
	switch c.Coding {
	case CodingPCMSigned16Bit, CodingUnicamCompressed8Bit:
	default:
		return fmt.Errorf("%w: coding %d", ErrUnsupportedCoding, byte(c.Coding))
	}
	if c.Coding == CodingUnicamCompressed8Bit && c.UnicamBlocksPerBlock()%2 != 0 {
		return fmt.Errorf("%w: %d UNICAM sub-blocks per block, need an even number to pair shift nibbles", ErrBadConfig, c.UnicamBlocksPerBlock())
	}
	if c.MaxDatagrams < 2 {
		return fmt.Errorf("%w: at least 2 datagram containers required, got %d", ErrBadConfig, c.MaxDatagrams)
	}
	if c.AudioMaxShiftBits < 0 || c.AudioMaxShiftBits > DefaultAudioMaxShiftBits {
		return fmt.Errorf("%w: audio max shift %d out of range 0..%d", ErrBadConfig, c.AudioMaxShiftBits, DefaultAudioMaxShiftBits)
	}
	if c.DesiredUnusedBits < 0 || c.ShiftHysteresisBits < 0 || c.UpShiftsForAShift < 1 {
		return fmt.Errorf("%w: gain control parameters out of range", ErrBadConfig)
	}
	return nil
}
