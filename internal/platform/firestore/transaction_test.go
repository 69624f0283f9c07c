package firestore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTxPolicyDefaults(t *testing.T) {
	got := TxPolicy{}.withDefaults()
	if got != DefaultTxPolicy {
		t.Fatalf("expected default policy, got %+v", got)
	}
	usage := UsagePolicy.withDefaults()
	if usage.MaxAttempts <= DefaultTxPolicy.MaxAttempts || usage.Timeout >= DefaultTxPolicy.Timeout {
		t.Fatalf("expected usage policy to retry more within a shorter budget, got %+v", usage)
	}
	if p := (TxPolicy{MaxAttempts: 2}).withDefaults(); p.MaxAttempts != 2 || p.Timeout != DefaultTxPolicy.Timeout {
		t.Fatalf("expected partial override kept, got %+v", p)
	}
}

func TestAbortUnwrapsToCause(t *testing.T) {
	quota := errors.New("quota exhausted")
	err := Abort(quota)
	var aborted *abortError
	if !errors.As(err, &aborted) || aborted.err != quota {
		t.Fatalf("expected abort wrapper, got %T", err)
	}
	if !errors.Is(err, quota) || err.Error() != quota.Error() {
		t.Fatalf("expected cause to show through, got %v", err)
	}
	if Abort(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestRunTransactionRequiresClient(t *testing.T) {
	err := RunTransaction(context.Background(), nil, UsagePolicy, nil)
	var repoErr *Error
	if !errors.As(err, &repoErr) {
		t.Fatalf("expected repository error, got %v", err)
	}
}

func TestMutateRequiresApply(t *testing.T) {
	repo := NewBaseRepository[struct{}](nil, "subscriptions", nil, nil)
	if _, err := repo.Mutate(context.Background(), "user-1", TxPolicy{Timeout: time.Second}, struct{}{}, nil); err == nil {
		t.Fatalf("expected error for nil mutate function")
	}
	if _, err := repo.Mutate(context.Background(), "user-1", UsagePolicy, struct{}{}, func(*struct{}, bool) error { return nil }); err == nil {
		t.Fatalf("expected error without a provider")
	}
}
