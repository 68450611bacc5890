// Package incidents models citizen-reported appeals against automated
// decisions. The status path is linear: OPEN → ESCALATED → RESOLVED, with no
// reopening. Only the OPEN → ESCALATED edge is driven by the core (the
// escalation sweep); resolution belongs to the operator tooling.
package incidents

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the incident lifecycle status.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusEscalated Status = "ESCALATED"
	StatusResolved  Status = "RESOLVED"
)

// next maps each status to its single legal successor.
var next = map[Status]Status{
	StatusOpen:      StatusEscalated,
	StatusEscalated: StatusResolved,
}

// CanAdvance reports whether from → to is the legal next step. RESOLVED is
// terminal. An operator may also resolve directly from OPEN.
func CanAdvance(from, to Status) bool {
	if from == StatusOpen && to == StatusResolved {
		return true
	}
	return next[from] == to && to != ""
}

// Incident is a citizen appeal against an automated decision.
type Incident struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"org_id"`
	CitizenEmail string    `json:"citizen_email"`
	SystemName   string    `json:"system_name,omitempty"`
	Description  string    `json:"description"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IntakeRequest is submitted by the public appeal intake.
type IntakeRequest struct {
	OrgID        string `json:"org_id"`
	CitizenEmail string `json:"citizen_email"`
	SystemName   string `json:"system_name,omitempty"`
	Description  string `json:"description"`
}

// New builds an OPEN incident from an intake request.
func New(req IntakeRequest, now time.Time) (Incident, error) {
	if req.OrgID == "" {
		return Incident{}, fmt.Errorf("incident requires an org id")
	}
	if req.CitizenEmail == "" {
		return Incident{}, fmt.Errorf("incident requires a citizen email")
	}
	if req.Description == "" {
		return Incident{}, fmt.Errorf("incident requires a description")
	}
	return Incident{
		ID:           uuid.New().String(),
		OrgID:        req.OrgID,
		CitizenEmail: req.CitizenEmail,
		SystemName:   req.SystemName,
		Description:  req.Description,
		Status:       StatusOpen,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}, nil
}

// Overdue reports whether an OPEN incident has breached the SLA threshold.
func (i Incident) Overdue(now time.Time, threshold time.Duration) bool {
	return i.Status == StatusOpen && now.Sub(i.CreatedAt) > threshold
}
