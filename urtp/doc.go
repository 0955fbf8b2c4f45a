// Package urtp encodes blocks of stereo I2S audio samples into URTP
// datagrams, the real-time framing used on the Internet of Chuffs uplink.
//
// Only the left channel of the incoming stereo stream is used. Each block
// of audio (20 ms by default) becomes one datagram: a 14 byte header
// followed by either raw big-endian 16 bit PCM or, by default, a NICAM-like
// 8 bit compression called UNICAM that achieves close to 50% of the PCM
// rate.
//
// The header layout is:
//
//	Offset  Size  Field
//	0       1     Sync byte, always 0x5A
//	1       1     Audio coding scheme (0 = PCM, 1 = UNICAM)
//	2       2     Sequence number, big-endian, wraps at 16 bits
//	4       8     Microsecond UTC timestamp of the block start, big-endian
//	12      2     Number of body bytes, big-endian
//
// For UNICAM the body is built from sub-blocks of 1 ms (16 samples at
// 16 kHz). Each sub-block is peak-scanned and all of its samples are
// arithmetically right-shifted so the largest fits in 8 bits; the shift
// value occupies one nibble. Sub-blocks are packed in pairs: the first
// sub-block's 16 sample bytes, then a shared shift byte (low nibble for
// the first sub-block, high nibble for the second), then the second
// sub-block's 16 sample bytes. Two sub-blocks therefore occupy 33 bytes
// and a default 20 ms block encodes to 330 body bytes, 344 bytes on the
// wire, 137.6 kbit/s.
//
// Encoded datagrams are handed over through a fixed pool of reusable
// containers managed as a ring. A container moves through the states
// EMPTY -> WRITING -> READY_TO_READ -> READING -> EMPTY; when the encoder
// laps the reader the oldest unread datagram is discarded first and an
// overflow run is reported through callbacks.
package urtp
