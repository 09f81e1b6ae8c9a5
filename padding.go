package sigtransport

import "errors"

// ErrInvalidPadding is returned by Unpad when the padded buffer does not end
// in a well-formed 0x80 terminator.
var ErrInvalidPadding = errors.New("sigtransport: invalid padding")

const padBlock = 160

// Pad appends a 0x80 terminator followed by zero bytes so the result length
// is a multiple of 160, minus one (the legacy framing reserves one header
// byte outside the padded region).
func Pad(plaintext []byte) []byte {
	padded := make([]byte, paddedLen(len(plaintext)))
	copy(padded, plaintext)
	padded[len(plaintext)] = 0x80
	return padded
}

func paddedLen(l int) int {
	return padBlock*((l+2+padBlock-1)/padBlock) - 1
}

// Unpad strips the 0x80 terminator and trailing zero padding added by Pad.
// It scans from the end of the buffer; the first nonzero byte found must be
// 0x80, otherwise the buffer is rejected as malformed.
func Unpad(padded []byte) ([]byte, error) {
	for i := len(padded) - 1; i >= 0; i-- {
		switch padded[i] {
		case 0x00:
			continue
		case 0x80:
			return padded[:i], nil
		default:
			return nil, ErrInvalidPadding
		}
	}
	return nil, ErrInvalidPadding
}
