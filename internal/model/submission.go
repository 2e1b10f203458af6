// Package model contains the entity definitions shared across packages.
package model

import "time"

// Submission is one uploaded archive plus its review metadata. The flags
// mirror the review life cycle: Examined stays false until either the
// pipeline auto-rejects the archive or a reviewer renders a decision, and
// Passed is only meaningful once Examined is true.
type Submission struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Size               int64     `json:"size"`
	Owner              string    `json:"owner"`
	OwnerEmail         string    `json:"ownerEmail"`
	ObjectKey          string    `json:"objectKey"`
	Examined           bool      `json:"examined"`
	Passed             bool      `json:"passed"`
	CertificationNotes string    `json:"certificationNotes,omitempty"`
	EvidenceReport     string    `json:"evidenceReport,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Outcome summarizes the review state for display purposes.
func (s *Submission) Outcome() string {
	switch {
	case !s.Examined:
		return "awaiting review"
	case s.Passed:
		return "certified"
	default:
		return "rejected"
	}
}
