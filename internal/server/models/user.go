package models

import "time"

// Capability is a single permission granted to a user.
type Capability string

const (
	CapabilityDebts         Capability = "debts"
	CapabilityVideoApproval Capability = "video_approval"
	CapabilityDebtOperator  Capability = "debt_operator"
	CapabilityEvidenceAudit Capability = "evidence_audit"
)

type User struct {
	ID           string
	UserName     string
	Email        string
	Capabilities map[Capability]bool
	CreatedAt    time.Time
}

func (u *User) Has(c Capability) bool {
	return u != nil && u.Capabilities[c]
}
