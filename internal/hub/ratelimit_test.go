package hub

import (
	"testing"
	"time"
)

func TestWindowLimiter(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := newWindowLimiter(10, time.Minute)

	for i := 1; i <= 10; i++ {
		if !l.allow(start.Add(time.Duration(i) * time.Second)) {
			t.Fatalf("request %d denied, want allowed", i)
		}
	}
	if l.allow(start.Add(30 * time.Second)) {
		t.Fatal("11th request allowed, want denied")
	}
	// The window opened at the first request (start+1s).
	if l.allow(start.Add(60 * time.Second)) {
		t.Error("request before window end allowed, want denied")
	}
	if !l.allow(start.Add(61 * time.Second)) {
		t.Error("request after window reset denied, want allowed")
	}
}

func TestRegistry_BroadcastDropsWhenFull(t *testing.T) {
	r := newRegistry()
	slow := &conn{id: "slow", send: make(chan []byte, 1), done: make(chan struct{})}
	fast := &conn{id: "fast", send: make(chan []byte, 4), done: make(chan struct{})}
	closed := &conn{id: "closed", send: make(chan []byte, 4), done: make(chan struct{})}
	closed.close()
	r.add(slow)
	r.add(fast)
	r.add(closed)

	if q, d := r.broadcast([]byte("1")); q != 2 || d != 1 {
		t.Errorf("first broadcast queued %d dropped %d, want 2/1", q, d)
	}
	if q, d := r.broadcast([]byte("2")); q != 1 || d != 2 {
		t.Errorf("second broadcast queued %d dropped %d, want 1/2", q, d)
	}

	r.remove("slow")
	if r.len() != 2 {
		t.Errorf("len() = %d, want 2", r.len())
	}
}
