// Package decrypt streams firmware images through AES-128 in ECB mode,
// removing PKCS#7 padding from the last block of the stream only.
//
// Input arrives in reads of arbitrary size. The Decryptor keeps a window
// of one flush unit plus some slack, so that when it emits a flush unit it
// already knows more data follows, and the final block is only unpadded
// once the source is exhausted. Output written before an error is not
// rolled back; callers must discard it.
package decrypt

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/mattchengg/fusdl/internal/pkcs7"
)

const (
	DefaultFlushSize = 4096
	DefaultSlack     = 32

	// maxEmptyReads bounds consecutive (0, nil) reads from the source.
	maxEmptyReads = 100
)

var (
	ErrInvalidKey = errors.New("decrypt: invalid key")
	ErrMisaligned = errors.New("decrypt: input is not a multiple of the block size")
	ErrUnpad      = errors.New("decrypt: unpadding error")
)

// Error reports where in the ciphertext stream decryption failed.
type Error struct {
	Offset int64
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v (at offset %d)", e.Err, e.Offset)
}

func (e *Error) Unwrap() error { return e.Err }

// Decryptor decrypts one stream per Run call. It holds no state between
// runs, so a failed stream is retried by running again from byte 0.
type Decryptor struct {
	block cipher.Block
	flush int
	slack int
}

// Option configures a Decryptor.
type Option func(*Decryptor)

// WithFlushSize sets how many bytes are decrypted and written at a time.
func WithFlushSize(n int) Option {
	return func(d *Decryptor) { d.flush = n }
}

// WithSlack sets the read-ahead kept beyond one flush unit.
func WithSlack(n int) Option {
	return func(d *Decryptor) { d.slack = n }
}

// New returns a Decryptor for block. Flush size and slack must be positive
// multiples of the block size.
func New(block cipher.Block, opts ...Option) (*Decryptor, error) {
	d := &Decryptor{
		block: block,
		flush: DefaultFlushSize,
		slack: DefaultSlack,
	}
	for _, opt := range opts {
		opt(d)
	}
	bs := block.BlockSize()
	if d.flush <= 0 || d.flush%bs != 0 {
		return nil, fmt.Errorf("decrypt: flush size %d is not a positive multiple of %d", d.flush, bs)
	}
	if d.slack <= 0 || d.slack%bs != 0 {
		return nil, fmt.Errorf("decrypt: slack %d is not a positive multiple of %d", d.slack, bs)
	}
	return d, nil
}

// Decrypt decrypts r into w with a 16-byte AES key and returns the number
// of plaintext bytes written.
func Decrypt(ctx context.Context, key []byte, r io.Reader, w io.Writer, opts ...Option) (int64, error) {
	if len(key) != aes.BlockSize {
		return 0, fmt.Errorf("%w: length %d", ErrInvalidKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	d, err := New(block, opts...)
	if err != nil {
		return 0, err
	}
	return d.Run(ctx, r, w)
}

// Run decrypts r into w. If w has a Flush method it is called once the
// final block has been written.
func (d *Decryptor) Run(ctx context.Context, r io.Reader, w io.Writer) (int64, error) {
	buf := make([]byte, d.flush+d.slack)
	var (
		filled   int
		eof      bool
		consumed int64
		written  int64
		empty    int
	)

	for {
		for !eof && filled < len(buf) {
			if err := ctx.Err(); err != nil {
				return written, err
			}
			n, err := r.Read(buf[filled:])
			filled += n
			switch {
			case errors.Is(err, io.EOF):
				eof = true
			case err != nil:
				return written, &Error{Offset: consumed + int64(filled), Err: err}
			case n == 0:
				empty++
				if empty >= maxEmptyReads {
					return written, &Error{Offset: consumed + int64(filled), Err: io.ErrNoProgress}
				}
			default:
				empty = 0
			}
		}

		if filled > d.flush {
			// More data is known to follow, so no unpadding here.
			chunk := buf[:d.flush]
			d.decryptBlocks(chunk)
			if _, err := w.Write(chunk); err != nil {
				return written, &Error{Offset: consumed, Err: err}
			}
			written += int64(len(chunk))
			consumed += int64(len(chunk))
			filled = copy(buf, buf[d.flush:filled])
			continue
		}

		// Only reachable at EOF: otherwise the window would be full.
		final := buf[:filled]
		if len(final)%d.block.BlockSize() != 0 {
			return written, &Error{Offset: consumed + int64(filled), Err: ErrMisaligned}
		}
		d.decryptBlocks(final)
		plain, err := pkcs7.Unpad(final, d.block.BlockSize())
		if err != nil {
			return written, &Error{Offset: consumed + int64(filled), Err: ErrUnpad}
		}
		if _, err := w.Write(plain); err != nil {
			return written, &Error{Offset: consumed, Err: err}
		}
		written += int64(len(plain))
		break
	}

	if f, ok := w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return written, err
		}
	}
	zerolog.Ctx(ctx).Debug().Int64("bytes", written).Msg("decryption complete")
	return written, nil
}

func (d *Decryptor) decryptBlocks(data []byte) {
	bs := d.block.BlockSize()
	for i := 0; i < len(data); i += bs {
		d.block.Decrypt(data[i:i+bs], data[i:i+bs])
	}
}
