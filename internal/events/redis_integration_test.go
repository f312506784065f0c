//go:build integration

package events

import (
	"context"
	"testing"
	"time"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	return "redis://" + endpoint
}

func TestBusPublishSubscribe(t *testing.T) {
	url := startRedis(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus, err := NewBus(url, "tenber:test", zap.NewNop())
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub := bus.Subscribe(ctx)

	// XREAD with "$" only sees entries added after the read starts.
	time.Sleep(200 * time.Millisecond)

	ev := &Event{
		Kind:   IdeaStaked,
		IdeaID: "idea-1",
		UserID: "user-1",
		Paths:  []string{FeedPath, IdeaPath("idea-1")},
		Data:   map[string]string{"amount": "25"},
	}
	if err := bus.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ev.ID == "" || ev.Timestamp.IsZero() {
		t.Fatal("Publish should fill ID and timestamp")
	}

	select {
	case got := <-sub:
		if got.ID != ev.ID || got.Kind != IdeaStaked || got.Data["amount"] != "25" {
			t.Errorf("unexpected event: %+v", got)
		}
		if len(got.Paths) != 2 {
			t.Errorf("paths = %v", got.Paths)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	cancel()
	for range sub {
	}
}
