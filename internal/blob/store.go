// Package blob stores staged and encrypted evidence artifacts behind a
// path-addressable interface, backed by local disk or an S3-compatible
// object store.
package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store is a path-addressable artifact store. Keys use forward slashes.
type Store interface {
	// Put streams r into key and returns the number of bytes written.
	// A failed Put leaves nothing behind under key.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	// Open returns a reader over key. Missing keys yield common.ErrorNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Move renames src to dst.
	Move(ctx context.Context, src, dst string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

const (
	StagingPrefix   = "staging"
	EncryptedPrefix = "evidence"
	incomingDir     = ".incoming"
)

// StoredFileName builds a collision-free name that keeps the original
// extension, e.g. "2025/03/07/0b9f...c1.mp4".
func StoredFileName(originalName string, now time.Time) string {
	ext := strings.ToLower(path.Ext(originalName))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	return fmt.Sprintf("%04d/%02d/%02d/%s%s", now.Year(), now.Month(), now.Day(), uuid.New(), ext)
}

// IncomingKey is where an upload is written before its database row commits.
func IncomingKey(stored string) string { return path.Join(StagingPrefix, incomingDir, stored) }

// StagedKey is the finalized plaintext location awaiting approval.
func StagedKey(stored string) string { return path.Join(StagingPrefix, stored) }

// EncryptingKey receives ciphertext while encryption is in flight.
func EncryptingKey(stored string) string { return path.Join(EncryptedPrefix, incomingDir, stored+".enc") }

// EncryptedKey is the permanent ciphertext location.
func EncryptedKey(stored string) string { return path.Join(EncryptedPrefix, stored+".enc") }
