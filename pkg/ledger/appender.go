package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aic-pulse/platform/core/pkg/hashchain"
	"github.com/aic-pulse/platform/core/pkg/lifecycle"
	"github.com/aic-pulse/platform/core/pkg/retry"
)

// EventRequest describes one governance event to record.
type EventRequest struct {
	TenantID  string
	Type      EntryType
	Payload   map[string]any
	Signature string

	// Transition, when set, requires the organization's certification
	// status to move From → To in the same atomic unit as the append.
	Transition *lifecycle.Transition

	// Companion, when set, runs inside the same transaction as the append,
	// for paired record mutations (override flags, incident escalation).
	Companion func(ctx context.Context, tx Tx) error
}

// Metrics receives append outcomes. The observability provider satisfies it;
// a nil Metrics disables recording.
type Metrics interface {
	RecordAppend(ctx context.Context, tenantID, entryType string)
	RecordConflict(ctx context.Context, tenantID string)
	RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue)
}

// Appender orchestrates "read latest hash → compute new hash → validate
// transition → write state + ledger entry" as one atomic unit. Conflicting
// concurrent appends are retried a bounded number of times; everything else
// fails the request.
type Appender struct {
	store   Store
	clock   func() time.Time
	sleep   func(time.Duration)
	policy  retry.BackoffPolicy
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics Metrics
}

// NewAppender creates an Appender over the given store.
func NewAppender(store Store) *Appender {
	return &Appender{
		store:  store,
		clock:  time.Now,
		sleep:  time.Sleep,
		policy: retry.DefaultAppendPolicy,
		logger: slog.Default().With("component", "ledger.appender"),
		tracer: otel.Tracer("aic.core/ledger"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (a *Appender) WithClock(clock func() time.Time) *Appender {
	a.clock = clock
	return a
}

// WithMetrics attaches an append outcome recorder.
func (a *Appender) WithMetrics(m Metrics) *Appender {
	a.metrics = m
	return a
}

// WithBackoff overrides the conflict retry policy.
func (a *Appender) WithBackoff(policy retry.BackoffPolicy, sleep func(time.Duration)) *Appender {
	a.policy = policy
	if sleep != nil {
		a.sleep = sleep
	}
	return a
}

// RecordEvent validates, hashes, and atomically persists one ledger entry
// together with its paired state mutation. On ErrConflict the whole
// read-compute-write cycle is retried up to the policy's attempt budget.
func (a *Appender) RecordEvent(ctx context.Context, req EventRequest) (Entry, error) {
	if req.TenantID == "" {
		return Entry{}, fmt.Errorf("ledger: tenant id is required")
	}
	if !req.Type.Valid() {
		return Entry{}, fmt.Errorf("ledger: unknown entry type %q", req.Type)
	}

	ctx, span := a.tracer.Start(ctx, "ledger.record_event",
		trace.WithAttributes(
			attribute.String("ledger.tenant_id", req.TenantID),
			attribute.String("ledger.entry_type", string(req.Type)),
		))
	defer span.End()

	if req.Transition != nil {
		current, err := a.store.CertificationStatus(ctx, req.TenantID)
		if err != nil {
			span.SetStatus(codes.Error, "status lookup failed")
			return Entry{}, &PersistenceError{Op: "certification status lookup", Err: err}
		}
		if current != req.Transition.From || !lifecycle.IsValidTransition(current, req.Transition.To) {
			span.SetStatus(codes.Error, "invalid transition")
			return Entry{}, &lifecycle.InvalidTransitionError{From: current, To: req.Transition.To}
		}
	}

	attempts := a.policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			a.sleep(retry.ComputeBackoff(retry.BackoffParams{
				Operation:    "ledger.append",
				TenantID:     req.TenantID,
				AttemptIndex: attempt,
			}, a.policy))
		}

		entry, err := a.tryAppend(ctx, req)
		if err == nil {
			span.SetAttributes(attribute.Int64("ledger.sequence", entry.Sequence))
			if a.metrics != nil {
				a.metrics.RecordAppend(ctx, entry.TenantID, string(entry.Type))
			}
			a.logger.InfoContext(ctx, "ledger entry recorded",
				"tenant_id", entry.TenantID,
				"entry_type", entry.Type,
				"sequence", entry.Sequence)
			return entry, nil
		}
		if errors.Is(err, ErrConflict) {
			if a.metrics != nil {
				a.metrics.RecordConflict(ctx, req.TenantID)
			}
			a.logger.WarnContext(ctx, "append conflict, retrying",
				"tenant_id", req.TenantID, "attempt", attempt+1)
			lastErr = err
			continue
		}
		span.SetStatus(codes.Error, err.Error())
		if a.metrics != nil {
			a.metrics.RecordError(ctx, err, attribute.String("ledger.tenant_id", req.TenantID))
		}
		return Entry{}, err
	}

	span.SetStatus(codes.Error, "append retries exhausted")
	err := fmt.Errorf("ledger: append retries exhausted for tenant %s: %w", req.TenantID, lastErr)
	if a.metrics != nil {
		a.metrics.RecordError(ctx, err, attribute.String("ledger.tenant_id", req.TenantID))
	}
	return Entry{}, err
}

// tryAppend runs one read-compute-write cycle.
func (a *Appender) tryAppend(ctx context.Context, req EventRequest) (Entry, error) {
	latest, ok, err := a.store.Latest(ctx, req.TenantID)
	if err != nil {
		return Entry{}, &PersistenceError{Op: "latest entry lookup", Err: err}
	}

	previousHash := ""
	sequence := int64(0)
	if ok {
		previousHash = latest.CurrentHash
		sequence = latest.Sequence + 1
	}

	// The hash binds the timestamp, so it must survive a storage round trip
	// exactly. Postgres TIMESTAMP keeps microseconds; anything finer would
	// read back changed and fail verification.
	timestamp := a.clock().UTC().Truncate(time.Microsecond)
	currentHash, err := hashchain.Compute(hashchain.ChainInput{
		PreviousHash: previousHash,
		EntryType:    string(req.Type),
		TenantID:     req.TenantID,
		Sequence:     sequence,
		Timestamp:    timestamp,
		Payload:      req.Payload,
	})
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{
		ID:           uuid.New().String(),
		TenantID:     req.TenantID,
		Type:         req.Type,
		Sequence:     sequence,
		CurrentHash:  currentHash,
		PreviousHash: previousHash,
		Timestamp:    timestamp,
		Signature:    req.Signature,
		Payload:      req.Payload,
	}

	// Abandonment is only honored before the commit; once the transaction
	// commits the entry is permanent.
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	err = a.store.RunInTx(ctx, func(tx Tx) error {
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}
		if req.Transition != nil {
			if err := tx.SetCertificationStatus(ctx, req.TenantID, req.Transition.From, req.Transition.To); err != nil {
				return err
			}
		}
		if req.Companion != nil {
			return req.Companion(ctx, tx)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return Entry{}, err
		}
		var invalid *lifecycle.InvalidTransitionError
		if errors.As(err, &invalid) || errors.Is(err, ErrStaleStatus) {
			return Entry{}, err
		}
		return Entry{}, &PersistenceError{Op: "transactional append", Err: err}
	}
	return entry, nil
}
