// Package escalation sweeps overdue citizen appeals past the regulatory SLA
// and forces their status to ESCALATED, recording each escalation as a
// ledger entry and alerting the organization.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aic-pulse/platform/core/pkg/incidents"
	"github.com/aic-pulse/platform/core/pkg/ledger"
	"github.com/aic-pulse/platform/core/pkg/notify"
)

// DefaultThreshold is the reference deployment's SLA for incident response.
const DefaultThreshold = 72 * time.Hour

// SweepSignature identifies the automated sweep as the acting authority on
// the ledger entries it writes.
const SweepSignature = "SIG_ESCALATION_SWEEP"

// IncidentSource lists incidents eligible for escalation.
type IncidentSource interface {
	OverdueOpenIncidents(ctx context.Context, cutoff time.Time) ([]incidents.Incident, error)
}

// Report summarizes one sweep run.
type Report struct {
	EscalatedIDs []string `json:"escalated_ids"`
	FailedIDs    []string `json:"failed_ids"`
}

// Scanner drives the OPEN → ESCALATED edge for overdue incidents. It runs on
// an external schedule; the cadence is a deployment parameter, not a core
// invariant.
type Scanner struct {
	source     IncidentSource
	appender   *ledger.Appender
	dispatcher notify.Dispatcher
	clock      func() time.Time
	logger     *slog.Logger
}

func NewScanner(source IncidentSource, appender *ledger.Appender, dispatcher notify.Dispatcher) *Scanner {
	return &Scanner{
		source:     source,
		appender:   appender,
		dispatcher: dispatcher,
		clock:      time.Now,
		logger:     slog.Default().With("component", "escalation.scanner"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Scanner) WithClock(clock func() time.Time) *Scanner {
	s.clock = clock
	return s
}

// Sweep escalates every OPEN incident older than threshold. Each incident's
// status flip and ledger entry commit atomically; the notification is
// fire-and-forget afterwards. A failure on one incident does not stop the
// batch — failed incidents stay OPEN and the next run picks them up again.
func (s *Scanner) Sweep(ctx context.Context, threshold time.Duration) (Report, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	now := s.clock().UTC()
	cutoff := now.Add(-threshold)

	overdue, err := s.source.OverdueOpenIncidents(ctx, cutoff)
	if err != nil {
		return Report{}, fmt.Errorf("escalation: list overdue incidents: %w", err)
	}

	report := Report{EscalatedIDs: []string{}, FailedIDs: []string{}}
	for _, inc := range overdue {
		// The source query is a prefilter; Overdue is the authority on the
		// SLA breach.
		if !inc.Overdue(now, threshold) {
			continue
		}
		if err := s.escalate(ctx, inc, now); err != nil {
			s.logger.ErrorContext(ctx, "escalation failed",
				"incident_id", inc.ID, "org_id", inc.OrgID, "error", err)
			report.FailedIDs = append(report.FailedIDs, inc.ID)
			continue
		}
		report.EscalatedIDs = append(report.EscalatedIDs, inc.ID)
	}

	s.logger.InfoContext(ctx, "sweep complete",
		"overdue", len(overdue),
		"escalated", len(report.EscalatedIDs),
		"failed", len(report.FailedIDs))
	return report, nil
}

func (s *Scanner) escalate(ctx context.Context, inc incidents.Incident, now time.Time) error {
	_, err := s.appender.RecordEvent(ctx, ledger.EventRequest{
		TenantID:  inc.OrgID,
		Type:      ledger.EntryEscalation,
		Signature: SweepSignature,
		Payload: map[string]any{
			"incident_id":   inc.ID,
			"citizen_email": inc.CitizenEmail,
			"opened_at":     inc.CreatedAt.Format(time.RFC3339Nano),
			"escalated_at":  now.Format(time.RFC3339Nano),
		},
		Companion: func(ctx context.Context, tx ledger.Tx) error {
			return tx.SetIncidentStatus(ctx, inc.ID, incidents.StatusOpen, incidents.StatusEscalated)
		},
	})
	if err != nil {
		return err
	}

	// Delivery is at-least-once and never blocks the sweep outcome.
	n := notify.New(inc.OrgID, "REGULATORY ESCALATION",
		fmt.Sprintf("Incident response for %s exceeded the regulatory threshold and was escalated to audit oversight.", inc.CitizenEmail),
		notify.KindAlert)
	if err := s.dispatcher.Dispatch(ctx, n); err != nil {
		s.logger.WarnContext(ctx, "notification dispatch failed",
			"incident_id", inc.ID, "error", err)
	}
	return nil
}
