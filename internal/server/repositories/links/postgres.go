// Package links persists the association between debts and their evidence
// attempts.
package links

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/debtkeeper/internal/common"
	"github.com/dmitrijs2005/debtkeeper/internal/dbx"
	"github.com/dmitrijs2005/debtkeeper/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, l *models.EvidenceLink) error {
	query := `INSERT INTO evidence_links (id, debt_id, video_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query, l.ID, l.DebtID, l.VideoID, string(l.Status), l.CreatedAt, l.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: debt %s already has live evidence", common.ErrorInvalidState, l.DebtID)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLink(s scanner) (*models.EvidenceLink, error) {
	var (
		l      models.EvidenceLink
		status string
	)
	if err := s.Scan(&l.ID, &l.DebtID, &l.VideoID, &status, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.Status = models.VideoStatus(status)
	return &l, nil
}

func (r *PostgresRepository) GetByVideoID(ctx context.Context, videoID string) (*models.EvidenceLink, error) {
	query := `SELECT id, debt_id, video_id, status, created_at, updated_at
		FROM evidence_links WHERE video_id = $1`

	l, err := scanLink(r.db.QueryRowContext(ctx, query, videoID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return l, nil
}

func (r *PostgresRepository) ListByDebtID(ctx context.Context, debtID string) ([]*models.EvidenceLink, error) {
	query := `SELECT id, debt_id, video_id, status, created_at, updated_at
		FROM evidence_links WHERE debt_id = $1
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, debtID)
	if err != nil {
		return nil, fmt.Errorf("failed to select links: %w", err)
	}
	defer rows.Close()

	var result []*models.EvidenceLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) SetStatus(ctx context.Context, videoID string, status models.VideoStatus, at time.Time) error {
	query := `UPDATE evidence_links SET status = $1, updated_at = $2 WHERE video_id = $3`

	res, err := r.db.ExecContext(ctx, query, string(status), at, videoID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res, common.ErrorNotFound)
}
