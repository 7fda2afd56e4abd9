// Package debts persists lending agreements and performs their conditional
// status transitions.
package debts

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

const debtColumns = `id, lender_id, borrower_id, amount, currency_code, description, due_date_utc,
		status, created_at, updated_at, borrower_approval_at, operator_approval_at, paid_at`

func (r *PostgresRepository) Create(ctx context.Context, d *models.Debt) error {
	query := `INSERT INTO debts (` + debtColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL, NULL, NULL)`

	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.LenderID, d.BorrowerID, d.Amount, d.CurrencyCode, d.Description, d.DueDateUTC,
		string(d.Status), d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDebt(s scanner) (*models.Debt, error) {
	var (
		d                      models.Debt
		status                 string
		borrowerAt, operatorAt sql.NullTime
		paidAt                 sql.NullTime
	)
	err := s.Scan(&d.ID, &d.LenderID, &d.BorrowerID, &d.Amount, &d.CurrencyCode, &d.Description, &d.DueDateUTC,
		&status, &d.CreatedAt, &d.UpdatedAt, &borrowerAt, &operatorAt, &paidAt)
	if err != nil {
		return nil, err
	}
	d.Status = models.DebtStatus(status)
	d.BorrowerApprovalAt = timePtr(borrowerAt)
	d.OperatorApprovalAt = timePtr(operatorAt)
	d.PaidAt = timePtr(paidAt)
	return &d, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Debt, error) {
	query := `SELECT ` + debtColumns + ` FROM debts WHERE id = $1`

	d, err := scanDebt(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) ListByParticipant(ctx context.Context, userID string) ([]*models.Debt, error) {
	query := `SELECT ` + debtColumns + ` FROM debts
		WHERE lender_id = $1 OR borrower_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select debts: %w", err)
	}
	defer rows.Close()

	var result []*models.Debt
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// stampColumn names the timestamp recorded when a debt enters a status.
func stampColumn(to models.DebtStatus) string {
	switch to {
	case models.DebtAcceptedPendingVideoUpload:
		return "borrower_approval_at"
	case models.DebtPaid:
		return "paid_at"
	}
	return ""
}

func (r *PostgresRepository) CompareAndSetStatus(ctx context.Context, id string, from, to models.DebtStatus, at time.Time) error {
	if !from.CanMoveTo(to) {
		return fmt.Errorf("%w: %s -> %s", common.ErrorInvalidState, from, to)
	}

	set := "status = $1, updated_at = $2"
	if col := stampColumn(to); col != "" {
		set += ", " + col + " = $2"
	}
	// leaving operator review for Active is the operator's approval
	if from == models.DebtPendingOperatorApproval && to == models.DebtActive {
		set += ", operator_approval_at = $2"
	}

	query := `UPDATE debts SET ` + set + ` WHERE id = $3 AND status = $4`

	res, err := r.db.ExecContext(ctx, query, string(to), at, id, string(from))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.ExpectOneRow(res, common.ErrorInvalidState)
}
