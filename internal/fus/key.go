package fus

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/rs/zerolog"
)

// KeyScheme identifies how a firmware binary's decryption key is derived.
type KeyScheme int

const (
	// SchemeUnknown means no decryption is possible; download only.
	SchemeUnknown KeyScheme = iota
	// SchemeV2 keys are MD5("region:model:version").
	SchemeV2
	// SchemeV4 keys are MD5(LogicCheck(version, LOGIC_VALUE_FACTORY)).
	SchemeV4
)

func (s KeyScheme) String() string {
	switch s {
	case SchemeV2:
		return "V2"
	case SchemeV4:
		return "V4"
	default:
		return "unknown"
	}
}

// Suffix is the binary file name extension carrying the scheme.
func (s KeyScheme) Suffix() string {
	switch s {
	case SchemeV2:
		return ".enc2"
	case SchemeV4:
		return ".enc4"
	default:
		return ""
	}
}

// DecryptKey is the result of key selection. Key is only meaningful when
// Scheme is not SchemeUnknown.
type DecryptKey struct {
	Scheme KeyScheme
	Key    [16]byte
}

// Known reports whether the binary can be decrypted.
func (k DecryptKey) Known() bool {
	return k.Scheme != SchemeUnknown
}

// Bytes returns the key, or nil for SchemeUnknown.
func (k DecryptKey) Bytes() []byte {
	if !k.Known() {
		return nil
	}
	return append([]byte(nil), k.Key[:]...)
}

func (k DecryptKey) String() string {
	if !k.Known() {
		return "unknown"
	}
	return strings.ToUpper(hex.EncodeToString(k.Key[:]))
}

// KeyFields are the metadata fields key selection depends on.
type KeyFields struct {
	BinaryName        string
	Version           string
	LogicValueFactory string
}

// SelectKey picks the decryption scheme from the binary name suffix and
// derives its key. It never fails: an unrecognized suffix yields
// SchemeUnknown.
func SelectKey(ctx context.Context, model, region string, f KeyFields) DecryptKey {
	switch {
	case strings.HasSuffix(f.BinaryName, SchemeV2.Suffix()):
		return V2Key(model, region, f.Version)
	case strings.HasSuffix(f.BinaryName, SchemeV4.Suffix()):
		if f.LogicValueFactory == "" {
			zerolog.Ctx(ctx).Warn().
				Str("binary", f.BinaryName).
				Msg("logic value is empty, decryption key is likely wrong")
		}
		return V4Key(f.Version, f.LogicValueFactory)
	default:
		return DecryptKey{Scheme: SchemeUnknown}
	}
}

// V2Key derives the key for .enc2 binaries.
func V2Key(model, region, version string) DecryptKey {
	return DecryptKey{
		Scheme: SchemeV2,
		Key:    md5.Sum([]byte(region + ":" + model + ":" + version)),
	}
}

// V4Key derives the key for .enc4 binaries.
func V4Key(version, logicValueFactory string) DecryptKey {
	return DecryptKey{
		Scheme: SchemeV4,
		Key:    md5.Sum([]byte(LogicCheck(version, logicValueFactory))),
	}
}

// DecryptedName strips the encryption suffix from a binary file name.
func DecryptedName(binaryName string) string {
	return strings.TrimSuffix(strings.TrimSuffix(binaryName, SchemeV4.Suffix()), SchemeV2.Suffix())
}
