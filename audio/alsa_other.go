//go:build !linux

package audio

import "fmt"

// OpenALSA is only available on Linux; elsewhere use a tone or ramp
// source, or provide a Device of your own.
func OpenALSA(name string, samplingFrequency, framesPerBlock int) (Device, error) {
	return nil, fmt.Errorf("audio: ALSA capture is not available on this platform")
}
