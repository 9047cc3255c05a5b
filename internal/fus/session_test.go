package fus

import (
	"errors"
	"testing"
)

func TestNewSession(t *testing.T) {
	if _, err := NewSession("", "id"); !errors.Is(err, ErrMissingNonce) {
		t.Errorf("err = %v, want ErrMissingNonce", err)
	}
	if _, err := NewSession("garbage!", "id"); !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("err = %v, want ErrInvalidEncoding", err)
	}

	s, err := NewSession(testNonceEncoded, "id")
	if err != nil {
		t.Fatal(err)
	}
	if s.Nonce.Value != testNonceValue || s.ID != "id" {
		t.Errorf("session = %+v", s)
	}
}

func TestSessionAuthorization(t *testing.T) {
	s, err := NewSession(testNonceEncoded, "")
	if err != nil {
		t.Fatal(err)
	}
	want := `FUS nonce="", signature="` + testNonceSignature + `", type="", nc="", realm="", newauth="1"`
	if got := s.Authorization(false); got != want {
		t.Errorf("Authorization(false) = %s, want %s", got, want)
	}
	want = `FUS nonce="` + testNonceEncoded + `", signature="` + testNonceSignature + `", type="", nc="", realm="", newauth="1"`
	if got := s.Authorization(true); got != want {
		t.Errorf("Authorization(true) = %s, want %s", got, want)
	}
}

func TestSessionRotate(t *testing.T) {
	s, err := NewSession(testNonceEncoded, "")
	if err != nil {
		t.Fatal(err)
	}
	before := s.Nonce

	rotated, err := s.Rotate("")
	if err != nil || rotated {
		t.Fatalf("Rotate(\"\") = %v, %v", rotated, err)
	}
	if s.Nonce != before {
		t.Errorf("nonce changed without a header")
	}

	rotated, err = s.Rotate(testNonce2Encoded)
	if err != nil || !rotated {
		t.Fatalf("Rotate = %v, %v", rotated, err)
	}
	if s.Nonce.Signature == before.Signature || s.Nonce.Value == before.Value {
		t.Errorf("nonce not replaced: %+v", s.Nonce)
	}
	want := Nonce{Encoded: testNonce2Encoded, Value: testNonce2Value, Signature: testNonce2Signature}
	if s.Nonce != want {
		t.Errorf("nonce = %+v, want %+v", s.Nonce, want)
	}

	after := s.Nonce
	if _, err := s.Rotate("not a nonce"); err == nil {
		t.Fatalf("expected error")
	}
	if s.Nonce != after {
		t.Errorf("failed rotation modified the session")
	}
}
