package urtp

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Callbacks are the event hooks a codec owner can install. All of them
// are invoked from the encoding goroutine; treat them as wake signals and
// do no heavy work inside.
type Callbacks struct {
	// DatagramReady fires when a datagram has been framed and its
	// container marked READY_TO_READ. The slice aliases the container
	// buffer and is only valid until the container is released.
	DatagramReady func(datagram []byte)

	// OverflowStart fires on the first overwrite of a run of ring
	// overflows.
	OverflowStart func()

	// OverflowStop fires when an overflow run ends, with the number of
	// datagrams discarded during the run.
	OverflowStop func(count int)
}

// Codec encodes raw stereo audio blocks into URTP datagrams backed by the
// container ring. It is driven from a single encoding goroutine; the ring
// is the only part shared with the reader side.
type Codec struct {
	cfg Config
	cbs Callbacks

	ring      *containerRing
	gain      *gainController
	preemph   fir
	unicamBuf []int
	clock     func() int64

	// sequence is the number the next datagram will carry. It is read
	// concurrently by the liveness monitor, hence atomic.
	sequence atomic.Int64
}

// New builds a codec from cfg. It verifies the configuration, runs the
// arithmetic right shift self test UNICAM depends on and allocates the
// container ring.
func New(cfg Config, cbs Callbacks) (*Codec, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Coding == CodingUnicamCompressed8Bit && !arithmeticShiftOK() {
		return nil, ErrArithmeticShift
	}

	clock := cfg.Clock
	if clock == nil {
		clock = func() int64 { return time.Now().UTC().UnixMicro() }
	}

	c := &Codec{
		cfg:       cfg,
		cbs:       cbs,
		ring:      newContainerRing(cfg.MaxDatagrams, cfg.DatagramSize()),
		gain:      newGainController(cfg),
		unicamBuf: make([]int, cfg.SamplesPerUnicamBlock()),
		clock:     clock,
	}

	logrus.WithFields(logrus.Fields{
		"coding":        cfg.Coding.String(),
		"datagram_size": cfg.DatagramSize(),
		"datagrams":     cfg.MaxDatagrams,
		"block":         cfg.BlockDuration.String(),
	}).Info("URTP codec ready")

	return c, nil
}

// arithmeticShiftOK verifies that right shifting a negative value keeps
// it negative. UNICAM decoding relies on this property end to end.
func arithmeticShiftOK() bool {
	negative := -1
	return negative>>1 < 0
}

// monoSample extracts the left channel 24 bit sample from one stereo
// frame word and sign extends it. The I2S frame places the sample in the
// upper 24 bits of the 32 bit word.
func monoSample(word uint32) int {
	return int(int32(word) >> 8)
}

// CodeAudioBlock encodes one block of raw audio into the next datagram
// container and marks it ready for reading. rawAudio must hold
// SamplesPerBlock stereo frames of interleaved 32 bit words; only the
// left channel (even words) is used.
func (c *Codec) CodeAudioBlock(rawAudio []uint32) error {
	if len(rawAudio) != c.cfg.SamplesPerBlock()*2 {
		return fmt.Errorf("%w: got %d words, want %d", ErrShortBlock, len(rawAudio), c.cfg.SamplesPerBlock()*2)
	}

	idx, ev := c.ring.getForWriting()
	if ev.overflowStarted && c.cbs.OverflowStart != nil {
		c.cbs.OverflowStart()
	}
	if ev.overflowStopped > 0 && c.cbs.OverflowStop != nil {
		c.cbs.OverflowStop(ev.overflowStopped)
	}

	datagram := c.ring.containers[idx].buf
	timestamp := c.clock()

	var bodyBytes int
	if c.cfg.Coding == CodingUnicamCompressed8Bit {
		bodyBytes = c.codeUnicam(rawAudio, datagram[HeaderSize:])
	} else {
		bodyBytes = c.codePCM(rawAudio, datagram[HeaderSize:])
	}

	datagram[0] = SyncByte
	datagram[1] = byte(c.cfg.Coding)
	binary.BigEndian.PutUint16(datagram[2:4], uint16(c.sequence.Load()))
	binary.BigEndian.PutUint64(datagram[4:12], uint64(timestamp))
	binary.BigEndian.PutUint16(datagram[12:14], uint16(bodyBytes))
	c.sequence.Add(1)

	c.ring.setReadyToRead(idx)
	if c.cbs.DatagramReady != nil {
		c.cbs.DatagramReady(datagram[:HeaderSize+bodyBytes])
	}

	return nil
}

// codeUnicam compresses one block into dest using the NICAM-like scheme:
// per 1 ms sub-block, all samples are arithmetically right shifted so the
// peak fits UnicamCodedSampleSizeBits, and the 4 bit shift value is
// packed pairwise into a shared byte between the two sub-blocks.
func (c *Codec) codeUnicam(rawAudio []uint32, dest []byte) int {
	samplesPerSub := c.cfg.SamplesPerUnicamBlock()
	maxSample := 0
	di := 0
	numBlocks := 0
	isEvenBlock := false
	i := 0

	for frame := 0; frame < len(rawAudio); frame += 2 {
		sample := c.gain.Process(monoSample(rawAudio[frame]))

		// Scale down to the largest size the decoder derives.
		sample >>= 32 - UnicamMaxDecodedSampleSizeBits

		c.preemph.Put(float64(sample))
		sample = int(c.preemph.Get())

		abs := sample
		if abs < 0 {
			abs = -abs
		}
		if abs > maxSample {
			maxSample = abs
		}

		c.unicamBuf[i] = sample
		i++
		if i < samplesPerSub {
			continue
		}
		i = 0

		shiftValue := usedBits(maxSample) - UnicamCodedSampleSizeBits
		if shiftValue < 0 {
			shiftValue = 0
		}
		maxSample = 0

		isEvenBlock = numBlocks&1 == 0
		if !isEvenBlock {
			// The low nibble of the shift byte was written by the
			// previous sub-block; ours goes in the high nibble, then
			// the data follows.
			dest[di] |= byte(shiftValue) << 4
			di++
		}

		for _, s := range c.unicamBuf {
			dest[di] = byte(s >> shiftValue)
			di++
		}

		if isEvenBlock {
			// The shift byte trails the data and is shared with the
			// next sub-block, so the cursor stays put.
			dest[di] = byte(shiftValue) & 0x0F
		}
		numBlocks++
	}

	if isEvenBlock {
		di++
	}
	return di
}

// codePCM writes one block as big-endian signed 16 bit samples: the top
// 16 bits of each gain shifted mono sample.
func (c *Codec) codePCM(rawAudio []uint32, dest []byte) int {
	di := 0
	for frame := 0; frame < len(rawAudio); frame += 2 {
		sample := c.gain.Process(monoSample(rawAudio[frame]))
		dest[di] = byte(sample >> 24)
		dest[di+1] = byte(sample >> 16)
		di += 2
	}
	return di
}

// usedBits returns the number of bits a sample of magnitude v occupies,
// sign bit included. The top bit is not scanned since it is always in
// use, which is why the count runs one past the highest set position;
// shifting by usedBits-8 therefore leaves the peak below 2^7, preserving
// the sign when the sample is truncated to a byte.
func usedBits(v int) int {
	for x := 30; x >= 0; x-- {
		if v&(1<<x) != 0 {
			return x + 2
		}
	}
	return 1
}

// GetDatagram returns the next framed datagram awaiting transmission, or
// nil when none is ready. The container stays READING until
// SetDatagramAsRead releases it, so a failed send can retry the same
// datagram on a later call. Queued datagrams live only as long as this
// Codec; they are not carried over to another one.
func (c *Codec) GetDatagram() []byte {
	idx := c.ring.getForReading()
	if idx < 0 {
		return nil
	}
	return c.ring.containers[idx].buf
}

// SetDatagramAsRead releases a datagram obtained from GetDatagram,
// marking its container EMPTY and advancing the read cursor.
func (c *Codec) SetDatagramAsRead(datagram []byte) {
	idx := c.ring.findByBuffer(datagram)
	if idx < 0 {
		logrus.Error("datagram to release is not a container buffer")
		return
	}
	c.ring.setRead(idx)
}

// DatagramSize is the wire size of every datagram this codec emits.
func (c *Codec) DatagramSize() int {
	return c.cfg.DatagramSize()
}

// SequenceNumber returns the sequence number the next datagram will
// carry. The internal counter does not wrap; the low 16 bits go on the
// wire.
func (c *Codec) SequenceNumber() int {
	return int(c.sequence.Load())
}

// DatagramsAvailable is the number of containers holding queued data.
func (c *Codec) DatagramsAvailable() int {
	return c.ring.availableCount()
}

// DatagramsFree is the number of EMPTY containers.
func (c *Codec) DatagramsFree() int {
	return c.ring.freeCount()
}

// DatagramsFreeMin is the low water mark of DatagramsFree.
func (c *Codec) DatagramsFreeMin() int {
	return c.ring.minFreeCount()
}

// GainShift reports the gain controller's current shift, for diagnostics.
func (c *Codec) GainShift() int {
	return c.gain.Shift()
}
