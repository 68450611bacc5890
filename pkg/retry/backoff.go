// Package retry provides deterministic exponential backoff for bounded
// retry loops. Jitter is derived from a PRF over the retry inputs rather
// than a random source, so replays of the same contention produce the same
// schedule.
package retry

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// BackoffParams identify one attempt of one operation.
type BackoffParams struct {
	Operation    string
	TenantID     string
	AttemptIndex int
}

// BackoffPolicy bounds the retry schedule.
type BackoffPolicy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// DefaultAppendPolicy is the ledger append conflict policy: three attempts
// with short delays, since conflicts resolve as soon as the winning writer
// commits.
var DefaultAppendPolicy = BackoffPolicy{
	BaseMs:      5,
	MaxMs:       50,
	MaxJitterMs: 10,
	MaxAttempts: 3,
}

// ComputeBackoff returns the delay before the given attempt.
// delay = min(base * 2^attempt, max) + jitter.
func ComputeBackoff(params BackoffParams, policy BackoffPolicy) time.Duration {
	factor := int64(1)
	if params.AttemptIndex > 0 {
		if params.AttemptIndex > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << params.AttemptIndex
		}
	}

	delay := policy.BaseMs * factor
	if delay > policy.MaxMs {
		delay = policy.MaxMs
	}

	return time.Duration(delay+computeJitter(params, policy)) * time.Millisecond
}

func computeJitter(params BackoffParams, policy BackoffPolicy) int64 {
	if policy.MaxJitterMs <= 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%s:%d", params.Operation, params.TenantID, params.AttemptIndex)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return int64(basis % uint64(policy.MaxJitterMs))
}
