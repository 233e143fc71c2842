package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaCallsExceeded    = errors.New("quota calls exceeded")
	ErrQuotaArgBytesExceeded = errors.New("quota argument bytes exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for a signer DID.
type QuotaNow struct {
	Calls    uint32
	ArgBytes uint64
	EpochID  uint64
}

// Quota defines the write limits enforced per signer DID. Zero limits are
// unlimited.
type Quota struct {
	MaxCallsPerEpoch    uint32
	MaxArgBytesPerEpoch uint64
	EpochSeconds        uint32
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxCallsPerEpoch > 0 || q.MaxArgBytesPerEpoch > 0
}

// Epoch maps a unix timestamp onto the quota epoch. An unset epoch length
// defaults to one minute.
func (q Quota) Epoch(unix int64) uint64 {
	seconds := int64(q.EpochSeconds)
	if seconds <= 0 {
		seconds = 60
	}
	if unix < 0 {
		return 0
	}
	return uint64(unix / seconds)
}

// CheckQuota verifies whether the additional calls and argument bytes fit
// within the configured quota. The returned QuotaNow reflects the updated
// counters when the quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addCalls uint32, addBytes uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addCalls > 0 {
		if next.Calls > math.MaxUint32-addCalls {
			return prev, ErrQuotaCounterOverflow
		}
		next.Calls += addCalls
	}
	if q.MaxCallsPerEpoch > 0 && next.Calls > q.MaxCallsPerEpoch {
		return prev, ErrQuotaCallsExceeded
	}

	if addBytes > 0 {
		if next.ArgBytes > math.MaxUint64-addBytes {
			return prev, ErrQuotaCounterOverflow
		}
		next.ArgBytes += addBytes
	}
	if q.MaxArgBytesPerEpoch > 0 && next.ArgBytes > q.MaxArgBytesPerEpoch {
		return prev, ErrQuotaArgBytesExceeded
	}

	return next, nil
}
