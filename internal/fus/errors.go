package fus

import (
	"errors"
	"fmt"
)

// Authentication errors. A fresh session is required after any of these.
var (
	ErrMissingNonce     = errors.New("missing NONCE header")
	ErrMissingSessionID = errors.New("missing JSESSIONID cookie")
)

// Crypto errors raised by the nonce codec.
var (
	ErrInvalidEncoding  = errors.New("nonce: invalid base64 encoding")
	ErrDecryptionFailed = errors.New("nonce: decryption failed")
	ErrInvalidUTF8      = errors.New("nonce: plaintext is not valid UTF-8")
	ErrInvalidKeyLength = errors.New("nonce: too short to derive a signing key")
	ErrEncryptionFailed = errors.New("nonce: encryption failed")
)

// ErrNoFirmware is returned when version.xml lists no latest firmware.
var ErrNoFirmware = errors.New("no firmware available")

// HTTPError is a non-2xx/3xx response from one of the FUS endpoints.
type HTTPError struct {
	Path   string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP error: %d", e.Path, e.Status)
	}
	return fmt.Sprintf("%s: HTTP error: %d - %s", e.Path, e.Status, e.Body)
}

// StatusError is a FUSMsg response whose Results/Status is not 200.
type StatusError struct {
	Request string
	Status  int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d", e.Request, e.Status)
}

// MalformedError reports a required field missing from server metadata.
type MalformedError struct {
	Field string
	Err   error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("malformed response: missing element %s", e.Field)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// IsAuthError checks if err means the session could not be established or
// continued.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingNonce) || errors.Is(err, ErrMissingSessionID)
}

// IsCryptoError checks if err came from the nonce codec.
func IsCryptoError(err error) bool {
	for _, target := range []error{
		ErrInvalidEncoding,
		ErrDecryptionFailed,
		ErrInvalidUTF8,
		ErrInvalidKeyLength,
		ErrEncryptionFailed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
