package cryptox

import (
	"bufio"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"io"

	"github.com/dmitrijs2005/debtkeeper/internal/common"
)

// Ciphertext layout: a sequence of AES-GCM sealed frames, each holding up to
// FrameSize plaintext bytes. Frame i uses the IV with i XORed into its last
// eight bytes as nonce, and carries a one-byte AAD flag that is 1 only on the
// last frame, so dropping trailing frames fails authentication. An empty
// plaintext still produces one (empty) final frame.
const FrameSize = 64 * 1024

var (
	aadMiddle = []byte{0}
	aadFinal  = []byte{1}
)

func newAEAD(key string, salt []byte) (cipher.AEAD, error) {
	cipherKey := deriveCipherKey(key, salt)
	defer common.WipeByteArray(cipherKey)

	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func frameNonce(dst, iv []byte, counter uint64) []byte {
	copy(dst, iv)
	tail := binary.BigEndian.Uint64(dst[len(dst)-8:])
	binary.BigEndian.PutUint64(dst[len(dst)-8:], tail^counter)
	return dst
}

// EncryptStream reads source until EOF and writes the sealed frames to dest.
// Memory use is bounded by FrameSize regardless of the asset size. Output is
// deterministic for identical (key, salt, iv, plaintext).
func EncryptStream(source io.Reader, dest io.Writer, key, salt, iv string) error {
	saltBytes, ivBytes, err := decodeParams(key, salt, iv)
	if err != nil {
		return err
	}
	aead, err := newAEAD(key, saltBytes)
	if err != nil {
		return err
	}

	src := bufio.NewReaderSize(source, FrameSize)
	plain := make([]byte, FrameSize)
	sealed := make([]byte, 0, FrameSize+aead.Overhead())
	nonce := make([]byte, aead.NonceSize())

	for counter := uint64(0); ; counter++ {
		n, err := io.ReadFull(src, plain)
		final := false
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			final = true
		case err != nil:
			return err
		default:
			if _, perr := src.Peek(1); errors.Is(perr, io.EOF) {
				final = true
			} else if perr != nil {
				return perr
			}
		}

		aad := aadMiddle
		if final {
			aad = aadFinal
		}
		sealed = aead.Seal(sealed[:0], frameNonce(nonce, ivBytes, counter), plain[:n], aad)
		if _, err := dest.Write(sealed); err != nil {
			return err
		}
		if final {
			return nil
		}
	}
}

// DecryptStream returns a reader that lazily authenticates and decrypts
// source one frame at a time. It performs no check of the key against any
// stored hash; callers must verify the key first.
func DecryptStream(source io.Reader, key, salt, iv string) (io.Reader, error) {
	saltBytes, ivBytes, err := decodeParams(key, salt, iv)
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(key, saltBytes)
	if err != nil {
		return nil, err
	}
	return &decryptReader{
		src:   bufio.NewReaderSize(source, FrameSize+aead.Overhead()),
		aead:  aead,
		iv:    ivBytes,
		frame: make([]byte, FrameSize+aead.Overhead()),
		buf:   make([]byte, 0, FrameSize),
		nonce: make([]byte, aead.NonceSize()),
	}, nil
}

type decryptReader struct {
	src     *bufio.Reader
	aead    cipher.AEAD
	iv      []byte
	counter uint64
	frame   []byte
	buf     []byte
	nonce   []byte
	plain   []byte
	done    bool
	err     error
}

func (r *decryptReader) Read(p []byte) (int, error) {
	for len(r.plain) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.done {
			return 0, io.EOF
		}
		r.err = r.next()
	}
	n := copy(p, r.plain)
	r.plain = r.plain[n:]
	return n, nil
}

func (r *decryptReader) next() error {
	n, err := io.ReadFull(r.src, r.frame)
	final := false
	switch {
	case errors.Is(err, io.EOF):
		// a frame boundary without a final frame before it
		return ErrCorruptStream
	case errors.Is(err, io.ErrUnexpectedEOF):
		final = true
	case err != nil:
		return err
	default:
		if _, perr := r.src.Peek(1); errors.Is(perr, io.EOF) {
			final = true
		} else if perr != nil {
			return perr
		}
	}
	if n < r.aead.Overhead() {
		return ErrCorruptStream
	}

	aad := aadMiddle
	if final {
		aad = aadFinal
	}
	plain, err := r.aead.Open(r.buf[:0], frameNonce(r.nonce, r.iv, r.counter), r.frame[:n], aad)
	if err != nil {
		return ErrCorruptStream
	}
	r.counter++
	r.plain = plain
	r.done = final
	return nil
}
