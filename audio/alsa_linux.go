//go:build linux

package audio

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strconv"

	"github.com/gen2brain/alsa"
	"github.com/sirupsen/logrus"
)

// alsaDeviceRegexp matches ALSA style device names such as hw:1,0 or
// plughw:2,1. The plugin prefix is stripped: TinyALSA talks straight to
// the hardware.
var alsaDeviceRegexp = regexp.MustCompile(`^(?:[a-z]+hw|hw):(\d+)(?:,(\d+))?$`)

// alsaDevice captures interleaved stereo S32_LE frames through TinyALSA
// ioctls.
type alsaDevice struct {
	pcm     *alsa.PCM
	name    string
	byteBuf []byte
	closed  bool
}

// OpenALSA opens an ALSA capture device by name ("hw:0,0", "plughw:1,0"
// or "default" for card 0 device 0) configured for stereo signed 32 bit
// little-endian frames at samplingFrequency Hz with a hardware period of
// framesPerBlock frames.
func OpenALSA(name string, samplingFrequency, framesPerBlock int) (Device, error) {
	card, dev, err := resolveALSAName(name)
	if err != nil {
		return nil, err
	}

	cfg := &alsa.Config{
		Channels:    2,
		Rate:        uint32(samplingFrequency),
		Format:      alsa.SNDRV_PCM_FORMAT_S32_LE,
		PeriodSize:  uint32(framesPerBlock),
		PeriodCount: 4,
	}

	pcm, err := alsa.PcmOpen(card, dev, alsa.PCM_IN, cfg)
	if err != nil {
		return nil, fmt.Errorf("audio: open capture device %q: %w", name, err)
	}

	logrus.WithFields(logrus.Fields{
		"device": name,
		"card":   card,
		"dev":    dev,
		"rate":   samplingFrequency,
		"period": framesPerBlock,
	}).Info("capture device open")

	return &alsaDevice{
		pcm:     pcm,
		name:    name,
		byteBuf: make([]byte, framesPerBlock*2*4),
	}, nil
}

// resolveALSAName maps a device name onto TinyALSA card and device
// numbers.
func resolveALSAName(name string) (card, dev uint, err error) {
	if name == "" || name == "default" {
		return 0, 0, nil
	}
	m := alsaDeviceRegexp.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, fmt.Errorf("audio: cannot parse device name %q, want hw:card[,device]", name)
	}
	c, _ := strconv.Atoi(m[1])
	d := 0
	if m[2] != "" {
		d, _ = strconv.Atoi(m[2])
	}
	return uint(c), uint(d), nil
}

// ReadBlock blocks for one period of frames and unpacks the little-endian
// words into buf.
func (d *alsaDevice) ReadBlock(buf []uint32) (int, error) {
	if d.closed {
		return 0, ErrClosed
	}
	want := len(buf) / 2
	raw := d.byteBuf[:want*2*4]

	frames, err := d.pcm.Read(raw)
	if err != nil {
		if d.pcm.State() == alsa.SNDRV_PCM_STATE_XRUN {
			return 0, fmt.Errorf("%w: %v", ErrOverrun, err)
		}
		return 0, fmt.Errorf("audio: read %q: %w", d.name, err)
	}

	for i := 0; i < frames*2 && i < len(buf); i++ {
		buf[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return frames, nil
}

// Prepare recovers the stream after an XRUN.
func (d *alsaDevice) Prepare() error {
	if d.closed {
		return ErrClosed
	}
	if err := d.pcm.Prepare(); err != nil {
		return fmt.Errorf("audio: prepare %q: %w", d.name, err)
	}
	if err := d.pcm.Start(); err != nil {
		return fmt.Errorf("audio: restart %q: %w", d.name, err)
	}
	logrus.WithField("device", d.name).Info("capture device recovered from overrun")
	return nil
}

// Close drains and releases the device.
func (d *alsaDevice) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.pcm.Drain()
	return d.pcm.Close()
}
