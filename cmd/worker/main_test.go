package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingStep struct {
	calls atomic.Int32
	err   error
}

func (c *countingStep) ExpireStale(context.Context, int) (int, error) {
	c.calls.Add(1)
	return 1, c.err
}

func (c *countingStep) ResumePending(context.Context, time.Duration, int) (int, error) {
	c.calls.Add(1)
	return 0, c.err
}

func (c *countingStep) RecoverAbandoned(context.Context, int) (int, error) {
	c.calls.Add(1)
	return 0, c.err
}

func (c *countingStep) SettleRefunds(context.Context, int) (int, error) {
	c.calls.Add(1)
	return 0, c.err
}

func TestSweepRunsEveryStepEvenAfterFailure(t *testing.T) {
	failing := &countingStep{err: errors.New("db down")}
	topups := &countingStep{}
	orders := &countingStep{err: errors.New("lock timeout")}
	s := &sweeper{activations: failing, topups: topups, orders: orders, batch: 10}

	s.sweep(context.Background())

	if failing.calls.Load() != 1 || topups.calls.Load() != 1 || orders.calls.Load() != 2 {
		t.Fatalf("expected every step once, got %d %d %d", failing.calls.Load(), topups.calls.Load(), orders.calls.Load())
	}
}

func TestRunSweepsOnWakeAndStops(t *testing.T) {
	step := &countingStep{}
	s := &sweeper{activations: step, topups: &countingStep{}, orders: &countingStep{}, batch: 10}

	ctx, cancel := context.WithCancel(context.Background())
	wake := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		s.run(ctx, time.Hour, wake)
		close(done)
	}()

	wake <- struct{}{}
	deadline := time.After(2 * time.Second)
	for step.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected a sweep on start and on wake, got %d", step.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
