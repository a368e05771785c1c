package wakeup

import (
	"context"
	"testing"
	"time"
)

func TestNilClientIsNoop(t *testing.T) {
	var p *Publisher
	p.Notify(context.Background())
	NewPublisher(nil).Notify(context.Background())

	done := make(chan struct{})
	go func() {
		Subscribe(context.Background(), nil, make(chan struct{}, 1))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Subscribe with nil client should return immediately")
	}
}
