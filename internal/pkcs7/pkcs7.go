// Package pkcs7 implements PKCS#7 block padding.
package pkcs7

import (
	"bytes"
	"errors"
)

// ErrPadding is returned by Unpad when the trailing padding bytes are
// inconsistent.
var ErrPadding = errors.New("pkcs7: invalid padding")

// Pad returns data followed by 1..blockSize bytes of padding. The input
// slice is not modified.
func Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	out := make([]byte, len(data), len(data)+padding)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

// PaddedLen is the length Pad would return for n input bytes.
func PaddedLen(n, blockSize int) int {
	return n + blockSize - n%blockSize
}

// Unpad strips the padding from data, which must be a non-empty multiple of
// blockSize. Every padding byte is checked.
func Unpad(data []byte, blockSize int) ([]byte, error) {
	length := len(data)
	if length == 0 || length%blockSize != 0 {
		return nil, ErrPadding
	}
	padding := int(data[length-1])
	if padding == 0 || padding > blockSize {
		return nil, ErrPadding
	}
	for _, b := range data[length-padding:] {
		if int(b) != padding {
			return nil, ErrPadding
		}
	}
	return data[:length-padding], nil
}
