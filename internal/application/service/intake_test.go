package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestIntake(broker *fakeBroker, store *fakeStore) *Intake {
	ex := NewExecutor(testExecutorConfig(), broker, store, testRiskState(), nil)
	return NewIntake(IntakeConfig{PollInterval: time.Second, BatchSize: 10}, store, ex)
}

func TestIntakeDrainExecutesPending(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore()
	in := newTestIntake(broker, store)
	ctx := context.Background()

	good := goodSignal("sig-good")
	weak := goodSignal("sig-weak")
	weak.Confidence = 0.40
	if err := store.CreateSignal(ctx, good); err != nil {
		t.Fatalf("create signal: %v", err)
	}
	if err := store.CreateSignal(ctx, weak); err != nil {
		t.Fatalf("create signal: %v", err)
	}

	in.Drain(ctx)

	if !store.executed["sig-good"] {
		t.Fatal("good signal not executed")
	}
	if _, ok := store.rejected["sig-weak"]; !ok {
		t.Fatal("weak signal not rejected")
	}
	pending, err := store.ListPendingSignals(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending signals, got %d", len(pending))
	}
}

func TestIntakeLeavesFailedSignalForRetry(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore()
	in := newTestIntake(broker, store)
	ctx := context.Background()

	if err := store.CreateSignal(ctx, goodSignal("sig-retry")); err != nil {
		t.Fatalf("create signal: %v", err)
	}

	broker.placeErr = errors.New("exchange unavailable")
	in.Drain(ctx)

	pending, err := store.ListPendingSignals(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected signal to stay pending, got %d", len(pending))
	}

	broker.placeErr = nil
	in.Drain(ctx)

	if !store.executed["sig-retry"] {
		t.Fatal("signal not executed after retry")
	}
}
