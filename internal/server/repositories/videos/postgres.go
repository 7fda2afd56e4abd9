// Package videos persists uploaded evidence and its encryption state.
package videos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/debtkeeper/internal/common"
	"github.com/dmitrijs2005/debtkeeper/internal/dbx"
	"github.com/dmitrijs2005/debtkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const videoColumns = `id, uploaded_by, original_file_name, stored_file_name, staged_path, encrypted_path,
		file_size, content_type, upload_date_utc, upload_finalized, status, key_hash, salt, iv, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, v *models.VideoEvidence) error {
	query := `INSERT INTO videos (` + videoColumns + `)
		VALUES ($1, $2, $3, $4, $5, NULL, $6, $7, $8, FALSE, $9, NULL, NULL, NULL, $10)`

	_, err := r.db.ExecContext(ctx, query,
		v.ID, v.UploadedBy, v.OriginalFileName, v.StoredFileName, v.StagedPath,
		v.FileSize, v.ContentType, v.UploadDateUTC, string(v.Status), v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.VideoEvidence, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`

	var (
		v                 models.VideoEvidence
		status            string
		staged, encrypted sql.NullString
		keyHash, salt, iv sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&v.ID, &v.UploadedBy, &v.OriginalFileName, &v.StoredFileName, &staged, &encrypted,
		&v.FileSize, &v.ContentType, &v.UploadDateUTC, &v.UploadFinalized, &status,
		&keyHash, &salt, &iv, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	v.Status = models.VideoStatus(status)
	v.StagedPath = strPtr(staged)
	v.EncryptedPath = strPtr(encrypted)
	v.KeyHash = strPtr(keyHash)
	v.Salt = strPtr(salt)
	v.IV = strPtr(iv)
	return &v, nil
}

func strPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func (r *PostgresRepository) MarkUploadFinalized(ctx context.Context, id, stagedPath string, at time.Time) error {
	query := `UPDATE videos SET staged_path = $1, upload_finalized = TRUE, updated_at = $2
		WHERE id = $3 AND upload_finalized = FALSE`

	res, err := r.db.ExecContext(ctx, query, stagedPath, at, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res, common.ErrorInvalidState)
}

func (r *PostgresRepository) CompareAndSetStatus(ctx context.Context, id string, from, to models.VideoStatus, at time.Time) error {
	query := `UPDATE videos SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`

	res, err := r.db.ExecContext(ctx, query, string(to), at, id, string(from))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res, common.ErrorInvalidState)
}

func (r *PostgresRepository) MarkEncrypted(ctx context.Context, id string, m models.EncryptionMaterial, at time.Time) error {
	query := `UPDATE videos
		SET status = $1, encrypted_path = $2, key_hash = $3, salt = $4, iv = $5,
			staged_path = NULL, updated_at = $6
		WHERE id = $7 AND status = $8`

	res, err := r.db.ExecContext(ctx, query,
		string(models.VideoEncrypted), m.EncryptedPath, m.KeyHash, m.Salt, m.IV, at,
		id, string(models.VideoProcessingEncryption))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res, common.ErrorInvalidState)
}
