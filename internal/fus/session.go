package fus

import "fmt"

// Session is the authentication state of one sequential request stream.
// The nonce used to sign a request depends on the previous response, so a
// Session must not be used from more than one goroutine at a time.
type Session struct {
	Nonce Nonce
	// ID is the JSESSIONID cookie; empty when cookies are disabled.
	ID string
}

// NewSession starts a session from the NONCE header of a challenge
// response.
func NewSession(nonceHeader, id string) (*Session, error) {
	if nonceHeader == "" {
		return nil, ErrMissingNonce
	}
	n, err := ParseNonce(nonceHeader)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	return &Session{Nonce: n, ID: id}, nil
}

// Authorization renders the FUS Authorization header. The encoded nonce is
// only included for the binary download itself.
func (s *Session) Authorization(includeEncoded bool) string {
	encoded := ""
	if includeEncoded {
		encoded = s.Nonce.Encoded
	}
	return authHeader(encoded, s.Nonce.Signature)
}

func authHeader(nonce, signature string) string {
	return fmt.Sprintf(`FUS nonce="%s", signature="%s", type="", nc="", realm="", newauth="1"`, nonce, signature)
}

// Rotate replaces the nonce with the one carried by a response NONCE
// header. An empty header keeps the current nonce. On error the session is
// left unchanged.
func (s *Session) Rotate(nonceHeader string) (bool, error) {
	if nonceHeader == "" {
		return false, nil
	}
	n, err := ParseNonce(nonceHeader)
	if err != nil {
		return false, fmt.Errorf("rotate nonce: %w", err)
	}
	s.Nonce = n
	return true, nil
}
