package common

import (
	"errors"
	"math"
	"testing"
)

func TestCheckQuotaCallLimit(t *testing.T) {
	q := Quota{MaxCallsPerEpoch: 10}
	prev := QuotaNow{EpochID: 1}

	next, err := CheckQuota(q, 1, prev, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Calls != 10 {
		t.Fatalf("unexpected call count: %d", next.Calls)
	}

	denied, err := CheckQuota(q, 1, next, 1, 0)
	if !errors.Is(err, ErrQuotaCallsExceeded) {
		t.Fatalf("expected ErrQuotaCallsExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := CheckQuota(q, 2, next, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.EpochID != 2 || rollover.Calls != 1 {
		t.Fatalf("unexpected state after rollover: %+v", rollover)
	}
}

func TestCheckQuotaArgBytes(t *testing.T) {
	q := Quota{MaxArgBytesPerEpoch: 1000}
	prev := QuotaNow{EpochID: 5}

	next, err := CheckQuota(q, 5, prev, 0, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ArgBytes != 1000 {
		t.Fatalf("unexpected bytes used: %d", next.ArgBytes)
	}

	denied, err := CheckQuota(q, 5, next, 0, 1)
	if !errors.Is(err, ErrQuotaArgBytesExceeded) {
		t.Fatalf("expected ErrQuotaArgBytesExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := CheckQuota(q, 6, next, 0, 500)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.ArgBytes != 500 {
		t.Fatalf("unexpected bytes used after rollover: %d", rollover.ArgBytes)
	}
}

func TestCheckQuotaOverflow(t *testing.T) {
	prev := QuotaNow{EpochID: 1, Calls: math.MaxUint32}
	if _, err := CheckQuota(Quota{}, 1, prev, 1, 0); !errors.Is(err, ErrQuotaCounterOverflow) {
		t.Fatalf("expected ErrQuotaCounterOverflow, got %v", err)
	}
}

func TestQuotaEpoch(t *testing.T) {
	if got := (Quota{}).Epoch(120); got != 2 {
		t.Fatalf("default epoch: got %d", got)
	}
	if got := (Quota{EpochSeconds: 10}).Epoch(125); got != 12 {
		t.Fatalf("custom epoch: got %d", got)
	}
	if (Quota{}).Enabled() {
		t.Fatalf("empty quota must be disabled")
	}
}

func TestGuard(t *testing.T) {
	if err := Guard(nil, "accumulator"); err != nil {
		t.Fatalf("nil view: %v", err)
	}
	paused := Pauses{"accumulator": true}
	if err := Guard(paused, "accumulator"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(paused, "offchainSignatures"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
