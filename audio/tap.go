package audio

import (
	"fmt"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"
)

// Tap records captured audio to a WAV file for offline inspection. It
// writes the mono left channel as signed 32 bit samples. The tap is a
// diagnostic aid; failures are logged, never fatal to the pipeline.
type Tap struct {
	file    *os.File
	encoder *wav.Encoder
	buf     *gaudio.IntBuffer
}

// NewTap creates the file and writes a WAV header for mono 32 bit audio
// at the given rate.
func NewTap(path string, samplingFrequency int) (*Tap, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audio: create tap file: %w", err)
	}

	enc := wav.NewEncoder(f, samplingFrequency, 32, 1, 1)

	logrus.WithFields(logrus.Fields{
		"path": path,
		"rate": samplingFrequency,
	}).Info("audio tap recording")

	return &Tap{
		file:    f,
		encoder: enc,
		buf: &gaudio.IntBuffer{
			Format:         &gaudio.Format{NumChannels: 1, SampleRate: samplingFrequency},
			SourceBitDepth: 32,
		},
	}, nil
}

// WriteBlock appends the left channel of one raw stereo block.
func (t *Tap) WriteBlock(rawAudio []uint32) error {
	if t == nil {
		return nil
	}
	frames := len(rawAudio) / 2
	if cap(t.buf.Data) < frames {
		t.buf.Data = make([]int, frames)
	}
	t.buf.Data = t.buf.Data[:frames]
	for f := 0; f < frames; f++ {
		t.buf.Data[f] = int(int32(rawAudio[f*2]))
	}
	if err := t.encoder.Write(t.buf); err != nil {
		return fmt.Errorf("audio: tap write: %w", err)
	}
	return nil
}

// Close finalises the WAV header and closes the file.
func (t *Tap) Close() error {
	if t == nil {
		return nil
	}
	if err := t.encoder.Close(); err != nil {
		t.file.Close()
		return fmt.Errorf("audio: tap finalise: %w", err)
	}
	return t.file.Close()
}
