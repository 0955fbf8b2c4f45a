package urtp

import "errors"

// Errors returned by codec construction and encoding.
var (
	// ErrBadConfig indicates an out of range configuration value.
	ErrBadConfig = errors.New("urtp: bad configuration")

	// ErrUnsupportedCoding indicates a coding scheme other than PCM
	// signed 16 bit or UNICAM compressed 8 bit.
	ErrUnsupportedCoding = errors.New("urtp: unsupported coding scheme")

	// ErrArithmeticShift indicates the platform failed the arithmetic
	// right shift self test that UNICAM depends on.
	ErrArithmeticShift = errors.New("urtp: right shift of a negative value is not arithmetic")

	// ErrShortBlock indicates a raw audio buffer of the wrong length was
	// offered for encoding.
	ErrShortBlock = errors.New("urtp: raw audio block has the wrong length")
)
