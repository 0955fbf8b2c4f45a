// Package audio provides the sound capture side of the streaming client.
//
// A capture Device delivers blocks of interleaved stereo frames as 32 bit
// words at a fixed sampling rate; the left channel carries the 24 bit
// sample the codec consumes. The production implementation sits on ALSA
// via TinyALSA ioctls. Tone and ramp generators stand in for hardware in
// diagnostics and tests, and an optional WAV tap records what was
// captured for offline inspection.
package audio
