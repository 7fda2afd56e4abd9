package models

import "time"

// EvidenceLink ties one evidence attempt to a debt. Status mirrors the
// linked video's status.
type EvidenceLink struct {
	ID        string
	DebtID    string
	VideoID   string
	Status    VideoStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EvidenceView is a link joined with its video, as listed for a debt.
type EvidenceView struct {
	Link  EvidenceLink
	Video VideoEvidence
}
