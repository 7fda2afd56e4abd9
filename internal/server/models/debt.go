// Package models defines server-side data models persisted in the database.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type DebtStatus string

const (
	DebtPendingBorrowerAcceptance  DebtStatus = "PendingBorrowerAcceptance"
	DebtAcceptedPendingVideoUpload DebtStatus = "AcceptedPendingVideoUpload"
	DebtPendingOperatorApproval    DebtStatus = "PendingOperatorApproval"
	DebtActive                     DebtStatus = "Active"
	DebtPaid                       DebtStatus = "Paid"
	DebtDefaulted                  DebtStatus = "Defaulted"
	DebtRejectedByBorrower         DebtStatus = "RejectedByBorrower"
	DebtRejectedByOperator         DebtStatus = "RejectedByOperator"
)

// debtTransitions is the only state graph a debt may move along.
var debtTransitions = map[DebtStatus][]DebtStatus{
	DebtPendingBorrowerAcceptance:  {DebtAcceptedPendingVideoUpload, DebtRejectedByBorrower},
	DebtAcceptedPendingVideoUpload: {DebtActive, DebtPendingOperatorApproval},
	DebtPendingOperatorApproval:    {DebtActive, DebtRejectedByOperator},
	DebtActive:                     {DebtPaid, DebtDefaulted},
}

// CanMoveTo reports whether to is a direct successor of s.
func (s DebtStatus) CanMoveTo(to DebtStatus) bool {
	for _, next := range debtTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no successors.
func (s DebtStatus) Terminal() bool {
	return len(debtTransitions[s]) == 0
}

type Debt struct {
	ID                 string
	LenderID           string
	BorrowerID         string
	Amount             decimal.Decimal
	CurrencyCode       string
	Description        string
	DueDateUTC         time.Time
	Status             DebtStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
	BorrowerApprovalAt *time.Time
	OperatorApprovalAt *time.Time
	PaidAt             *time.Time
}

// IsParty reports whether userID is the lender or the borrower.
func (d *Debt) IsParty(userID string) bool {
	return d.LenderID == userID || d.BorrowerID == userID
}
