package models

import "time"

type VideoStatus string

const (
	VideoPendingApproval      VideoStatus = "PendingApproval"
	VideoProcessingEncryption VideoStatus = "ProcessingEncryption"
	VideoEncrypted            VideoStatus = "Encrypted"
	VideoProcessingError      VideoStatus = "ProcessingError"
	VideoRejected             VideoStatus = "Rejected"
)

// Live reports whether evidence in this status still counts toward its debt.
// Only rejected evidence frees the debt for a new upload.
func (s VideoStatus) Live() bool {
	return s != VideoRejected
}

// VideoEvidence is an uploaded recording. StagedPath is set only while the
// plaintext waits for approval; EncryptedPath and the key hash, salt and IV
// are set together once encryption has completed.
type VideoEvidence struct {
	ID               string
	UploadedBy       string
	OriginalFileName string
	StoredFileName   string
	StagedPath       *string
	EncryptedPath    *string
	FileSize         int64
	ContentType      string
	UploadDateUTC    time.Time
	UploadFinalized  bool
	Status           VideoStatus
	KeyHash          *string
	Salt             *string
	IV               *string
	UpdatedAt        time.Time
}

// EncryptionMaterial is what Approve persists after a successful encryption.
type EncryptionMaterial struct {
	EncryptedPath string
	KeyHash       string
	Salt          string
	IV            string
}

// Readable reports whether v holds everything needed to decrypt it.
func (v *VideoEvidence) Readable() bool {
	return v.Status == VideoEncrypted &&
		v.EncryptedPath != nil && v.KeyHash != nil && v.Salt != nil && v.IV != nil
}
