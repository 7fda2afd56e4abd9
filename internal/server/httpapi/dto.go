package httpapi

import (
	"time"

	"github.com/dmitrijs2005/debtkeeper/internal/server/models"
	"github.com/shopspring/decimal"
)

type offerRequest struct {
	Borrower    string          `json:"borrower"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	DueDate     time.Time       `json:"due_date"`
	Description string          `json:"description"`
}

type decisionRequest struct {
	Accepted *bool `json:"accepted,omitempty"`
	Approved *bool `json:"approved,omitempty"`
}

type debtResponse struct {
	ID                 string            `json:"id"`
	LenderID           string            `json:"lender_id"`
	BorrowerID         string            `json:"borrower_id"`
	Amount             decimal.Decimal   `json:"amount"`
	Currency           string            `json:"currency"`
	Description        string            `json:"description,omitempty"`
	DueDate            time.Time         `json:"due_date"`
	Status             models.DebtStatus `json:"status"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	BorrowerApprovalAt *time.Time        `json:"borrower_approval_at,omitempty"`
	OperatorApprovalAt *time.Time        `json:"operator_approval_at,omitempty"`
	PaidAt             *time.Time        `json:"paid_at,omitempty"`
}

func toDebtResponse(d *models.Debt) debtResponse {
	return debtResponse{
		ID:                 d.ID,
		LenderID:           d.LenderID,
		BorrowerID:         d.BorrowerID,
		Amount:             d.Amount,
		Currency:           d.CurrencyCode,
		Description:        d.Description,
		DueDate:            d.DueDateUTC,
		Status:             d.Status,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
		BorrowerApprovalAt: d.BorrowerApprovalAt,
		OperatorApprovalAt: d.OperatorApprovalAt,
		PaidAt:             d.PaidAt,
	}
}

// videoResponse never carries storage paths or key material.
type videoResponse struct {
	ID          string             `json:"id"`
	UploadedBy  string             `json:"uploaded_by"`
	FileName    string             `json:"file_name"`
	FileSize    int64              `json:"file_size"`
	ContentType string             `json:"content_type"`
	UploadedAt  time.Time          `json:"uploaded_at"`
	Status      models.VideoStatus `json:"status"`
	Encrypted   bool               `json:"encrypted"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func toVideoResponse(v *models.VideoEvidence) videoResponse {
	return videoResponse{
		ID:          v.ID,
		UploadedBy:  v.UploadedBy,
		FileName:    v.OriginalFileName,
		FileSize:    v.FileSize,
		ContentType: v.ContentType,
		UploadedAt:  v.UploadDateUTC,
		Status:      v.Status,
		Encrypted:   v.Readable(),
		UpdatedAt:   v.UpdatedAt,
	}
}

type evidenceResponse struct {
	LinkID    string             `json:"link_id"`
	DebtID    string             `json:"debt_id"`
	Status    models.VideoStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	Video     videoResponse      `json:"video"`
}

// approveResponse is returned when encryption succeeded but the key could
// not be delivered.
type approveResponse struct {
	Error    errorBody     `json:"error"`
	Evidence videoResponse `json:"evidence"`
}
