package audio

import (
	"time"
)

// tone400Hz is one cycle of a 400 Hz sine as signed 24 bit samples at
// 16 kHz, sign extended to 32 bits. Be careful when streaming it: it
// exactly fits an audio block, so missing blocks go unnoticed.
var tone400Hz = [40]int32{
	0x00000000, 0x001004d5, 0x001fa4b2, 0x002e7d16, 0x003c3070,
	0x00486861, 0x0052d7e5, 0x005b3d33, 0x00616360, 0x006523a8,
	0x00666666, 0x006523a8, 0x00616360, 0x005b3d33, 0x0052d7e5,
	0x00486861, 0x003c3070, 0x002e7d16, 0x001fa4b2, 0x001004d5,
	0x00000000, -0x001004d6, -0x001fa4b2, -0x002e7d17, -0x003c3070,
	-0x00486862, -0x0052d7e5, -0x005b3d34, -0x00616360, -0x006523a9,
	-0x00666667, -0x006523a9, -0x00616360, -0x005b3d34, -0x0052d7e5,
	-0x00486862, -0x003c3070, -0x002e7d17, -0x001fa4b2, -0x001004d6,
}

// ToneDevice is a capture stand-in producing a steady 400 Hz tone on the
// left channel. When Paced is set it sleeps so blocks arrive in real
// time, like hardware would deliver them.
type ToneDevice struct {
	SamplingFrequency int
	Paced             bool

	index  int
	closed bool
}

// NewToneDevice returns a tone source at the given rate.
func NewToneDevice(samplingFrequency int, paced bool) *ToneDevice {
	return &ToneDevice{SamplingFrequency: samplingFrequency, Paced: paced}
}

// ReadBlock fills buf with tone frames, duplicating the sample on both
// channels.
func (d *ToneDevice) ReadBlock(buf []uint32) (int, error) {
	if d.closed {
		return 0, ErrClosed
	}
	frames := len(buf) / 2
	for f := 0; f < frames; f++ {
		// The device word carries the 24 bit sample in its upper bits.
		word := uint32(tone400Hz[d.index]) << 8
		buf[f*2] = word
		buf[f*2+1] = word
		d.index++
		if d.index == len(tone400Hz) {
			d.index = 0
		}
	}
	if d.Paced {
		time.Sleep(time.Duration(frames) * time.Second / time.Duration(d.SamplingFrequency))
	}
	return frames, nil
}

// Prepare is a no-op for the generator.
func (d *ToneDevice) Prepare() error { return nil }

// Close stops the generator.
func (d *ToneDevice) Close() error {
	d.closed = true
	return nil
}

// RampDevice is a capture stand-in producing a triangle wave that sweeps
// the full amplitude range, useful for spotting discontinuities in the
// codec. Gain control makes a mess of a ramp; switch it off (shift cap
// zero) when using this source.
type RampDevice struct {
	Increment int32
	Limit     int32

	value     int32
	increment int32
	closed    bool
}

// NewRampDevice returns a ramp source stepping by increment per frame up
// to ±limit.
func NewRampDevice(increment, limit int32) *RampDevice {
	return &RampDevice{Increment: increment, Limit: limit, increment: increment}
}

// ReadBlock fills buf with the next stretch of the triangle wave.
func (d *RampDevice) ReadBlock(buf []uint32) (int, error) {
	if d.closed {
		return 0, ErrClosed
	}
	frames := len(buf) / 2
	for f := 0; f < frames; f++ {
		// Clamp to 24 bits for the device word.
		sample := d.value >> 8
		word := uint32(sample) << 8
		buf[f*2] = word
		buf[f*2+1] = word

		d.value += d.increment
		if d.value >= d.Limit || d.value <= -d.Limit {
			d.increment = -d.increment
			d.value += d.increment
		}
	}
	return frames, nil
}

// Prepare is a no-op for the generator.
func (d *RampDevice) Prepare() error { return nil }

// Close stops the generator.
func (d *RampDevice) Close() error {
	d.closed = true
	return nil
}
