// Package cryptox holds the media encryption primitives: random key, salt
// and IV generation, one-way key hashing, and streaming encryption of
// arbitrarily large assets. It knows nothing about debts or evidence.
//
// The engine never supplies defaults for key material. Every call to
// EncryptStream and DecryptStream takes the key, salt and IV from the
// caller, who must generate a fresh triple per asset.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// MinKeyLength is the shortest one-time key GenerateRandomKey will produce.
	MinKeyLength = 16

	// SaltLength and IVLength are sized for Argon2id and AES-GCM respectively.
	SaltLength = 16
	IVLength   = 12

	cipherKeyLength = 32

	// Argon2id parameters.
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var (
	ErrKeyTooShort   = errors.New("key too short")
	ErrMissingKey    = errors.New("key is required")
	ErrInvalidSalt   = errors.New("invalid salt")
	ErrInvalidIV     = errors.New("invalid iv")
	ErrCorruptStream = errors.New("corrupt or truncated stream")
)

var randRead = rand.Read

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := randRead(b); err != nil {
		return nil, fmt.Errorf("random source: %w", err)
	}
	return b, nil
}

// GenerateRandomKey returns lengthBytes of cryptographically secure random
// data, base64url encoded without padding so it survives e-mail and URLs.
func GenerateRandomKey(lengthBytes int) (string, error) {
	if lengthBytes < MinKeyLength {
		return "", fmt.Errorf("%w: %d < %d bytes", ErrKeyTooShort, lengthBytes, MinKeyLength)
	}
	b, err := randomBytes(lengthBytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateSalt returns a base64 encoded random salt for key derivation.
func GenerateSalt() (string, error) {
	b, err := randomBytes(SaltLength)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// GenerateIV returns a base64 encoded random AES-GCM base nonce.
func GenerateIV() (string, error) {
	b, err := randomBytes(IVLength)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// HashKey returns the hex SHA-256 of key. One-time keys are high entropy
// random values, so a fast hash is enough to make the stored value useless
// for recovering the key while still letting a presented key be checked.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// VerifyKey reports whether HashKey(key) equals storedHash, in constant time.
func VerifyKey(key, storedHash string) bool {
	candidate := HashKey(key)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(storedHash)) == 1
}

// deriveCipherKey stretches the one-time key with Argon2id into an AES-256 key.
func deriveCipherKey(key string, salt []byte) []byte {
	return argon2.IDKey([]byte(key), salt, argonTime, argonMemory, argonThreads, cipherKeyLength)
}

func decodeParams(key, salt, iv string) (saltBytes, ivBytes []byte, err error) {
	if key == "" {
		return nil, nil, ErrMissingKey
	}
	saltBytes, err = base64.StdEncoding.DecodeString(salt)
	if err != nil || len(saltBytes) != SaltLength {
		return nil, nil, ErrInvalidSalt
	}
	ivBytes, err = base64.StdEncoding.DecodeString(iv)
	if err != nil || len(ivBytes) != IVLength {
		return nil, nil, ErrInvalidIV
	}
	return saltBytes, ivBytes, nil
}
