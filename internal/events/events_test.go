package events

import (
	"context"
	"testing"
)

func TestNopPublish(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), &Event{Kind: IdeaCreated}); err != nil {
		t.Fatalf("Nop.Publish: %v", err)
	}
}

func TestPaths(t *testing.T) {
	if got := IdeaPath("abc"); got != "/i/abc" {
		t.Errorf("IdeaPath = %q", got)
	}
	if got := UserPath("kindler"); got != "/u/kindler" {
		t.Errorf("UserPath = %q", got)
	}
}

func TestNewBusRejectsBadURL(t *testing.T) {
	if _, err := NewBus("not a url", "tenber:test", nil); err == nil {
		t.Fatal("expected parse error")
	}
}
