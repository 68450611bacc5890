// Package lifecycle implements the certification lifecycle state machine.
//
// Every certification moves DRAFT → PENDING_REVIEW → (REVISION_REQUIRED ⇄
// PENDING_REVIEW) → APPROVED → CERTIFIED. CERTIFIED is terminal. Any pair
// not in the transition table is illegal, including same-state pairs.
package lifecycle

import "fmt"

// Status is the certification status of an organization.
type Status string

const (
	StatusDraft            Status = "DRAFT"
	StatusPendingReview    Status = "PENDING_REVIEW"
	StatusRevisionRequired Status = "REVISION_REQUIRED"
	StatusApproved         Status = "APPROVED"
	StatusCertified        Status = "CERTIFIED"
)

// Initial is the status every organization starts in.
const Initial = StatusDraft

// transitions is the exhaustive set of legal edges. CERTIFIED has none.
var transitions = map[Status][]Status{
	StatusDraft:            {StatusPendingReview},
	StatusPendingReview:    {StatusRevisionRequired, StatusApproved},
	StatusRevisionRequired: {StatusPendingReview},
	StatusApproved:         {StatusCertified},
	StatusCertified:        {},
}

// Transition is a requested status change.
type Transition struct {
	From Status `json:"from"`
	To   Status `json:"to"`
}

// IsValidTransition reports whether current → next is a legal edge.
// There are no implicit self-loops and no skipping.
func IsValidTransition(current, next Status) bool {
	for _, allowed := range transitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is one of the five known statuses.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether s has no outgoing edges.
func (s Status) Terminal() bool {
	allowed, ok := transitions[s]
	return ok && len(allowed) == 0
}

// Parse converts a raw string (from the database or an API request) into a
// Status, rejecting anything outside the closed set.
func Parse(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown certification status %q", raw)
	}
	return s, nil
}

// InvalidTransitionError reports an illegal lifecycle move. It always carries
// the offending pair so callers can surface it verbatim.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid certification transition %s -> %s", e.From, e.To)
}
