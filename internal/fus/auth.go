package fus

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"github.com/mattchengg/fusdl/internal/pkcs7"
)

const (
	key1 = "vicopx7dqu06emacgpnpy8j8zwhduwlh"
	key2 = "9u7qab84rpc16gvk"

	// maxNonceCiphertext bounds the decoded NONCE header.
	maxNonceCiphertext = 32
	// sigBufLen bounds the padded nonce that gets signed.
	sigBufLen = 44
)

// Nonce is the server challenge in its three forms. Encoded is echoed back
// verbatim, Value feeds LogicCheck and Signature proves the challenge was
// decrypted.
type Nonce struct {
	Encoded   string
	Value     string
	Signature string
}

// ParseNonce turns a NONCE header into a Nonce.
func ParseNonce(encoded string) (Nonce, error) {
	value, err := DecodeNonce(encoded)
	if err != nil {
		return Nonce{}, err
	}
	sig, err := SignNonce(value)
	if err != nil {
		return Nonce{}, err
	}
	return Nonce{Encoded: encoded, Value: value, Signature: sig}, nil
}

// LogicCheck picks, for every character of keystream, the byte of input at
// the index given by the character's low nibble. Indexes past the end of
// input are skipped.
func LogicCheck(input, keystream string) string {
	out := make([]byte, 0, len(keystream))
	for _, c := range keystream {
		n := int(c) & 0xf
		if n < len(input) {
			out = append(out, input[n])
		}
	}
	return string(out)
}

// DecodeNonce decrypts a base64 NONCE header with the fixed protocol key.
func DecodeNonce(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if len(data) > maxNonceCiphertext {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidEncoding, len(data), maxNonceCiphertext)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d", ErrDecryptionFailed, len(data))
	}

	plain, err := aesDecrypt(data, []byte(key1))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plain) {
		return "", ErrInvalidUTF8
	}
	return string(plain), nil
}

// SignNonce encrypts the nonce with a key derived from its own first 16
// bytes and returns the base64 signature.
func SignNonce(nonce string) (string, error) {
	key, err := deriveKey(nonce)
	if err != nil {
		return "", err
	}
	if n := pkcs7.PaddedLen(len(nonce), aes.BlockSize); n > sigBufLen {
		return "", fmt.Errorf("%w: padded nonce is %d bytes, limit %d", ErrEncryptionFailed, n, sigBufLen)
	}
	authData, err := aesEncrypt([]byte(nonce), key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(authData), nil
}

func deriveKey(nonce string) ([]byte, error) {
	if len(nonce) < 16 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeyLength, len(nonce))
	}
	key := make([]byte, 32)
	for i := 0; i < 16; i++ {
		key[i] = key1[int(nonce[i])%16]
	}
	copy(key[16:], key2)
	return key, nil
}

func aesEncrypt(input, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	padded := pkcs7.Pad(input, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, key[:aes.BlockSize]).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

func aesDecrypt(input, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	plaintext := make([]byte, len(input))
	cipher.NewCBCDecrypter(block, key[:aes.BlockSize]).CryptBlocks(plaintext, input)
	plaintext, err = pkcs7.Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
