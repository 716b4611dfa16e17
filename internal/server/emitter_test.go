package server

import (
	"testing"
	"time"

	"github.com/eternisai/enchanted-chat/internal/ratelimit"
)

type fakeConn struct {
	events []fakeEvent
}

type fakeEvent struct {
	name    string
	payload map[string]interface{}
}

func (f *fakeConn) ID() string { return "conn-1" }

func (f *fakeConn) Emit(event string, args ...interface{}) {
	payload, _ := args[0].(map[string]interface{})
	f.events = append(f.events, fakeEvent{name: event, payload: payload})
}

func TestEmitMessageResponse(t *testing.T) {
	conn := &fakeConn{}
	em := newConnEmitter(conn)

	em.EmitMessageResponse("c1", "hello", false)
	em.EmitMessageResponse("c1", "", true)

	if len(conn.events) != 2 {
		t.Fatalf("got %d events", len(conn.events))
	}
	first := conn.events[0]
	if first.name != "message-response" || first.payload["chatId"] != "c1" ||
		first.payload["message"] != "hello" || first.payload["isComplete"] != false {
		t.Errorf("first event = %+v", first)
	}
	if _, present := first.payload["rateLimited"]; present {
		t.Error("plain responses must not carry the rateLimited flag")
	}
	if conn.events[1].payload["isComplete"] != true {
		t.Errorf("terminal event = %+v", conn.events[1])
	}
}

func TestEmitRateLimited(t *testing.T) {
	conn := &fakeConn{}
	em := newConnEmitter(conn)

	em.EmitRateLimited("c1", "slow down")

	ev := conn.events[0]
	if ev.name != "message-response" {
		t.Errorf("event name = %q", ev.name)
	}
	if ev.payload["rateLimited"] != true || ev.payload["isComplete"] != true {
		t.Errorf("payload = %+v", ev.payload)
	}
}

func TestEmitTyping(t *testing.T) {
	conn := &fakeConn{}
	em := newConnEmitter(conn)

	em.EmitTyping("c1", true)
	em.EmitTyping("c1", false)

	if conn.events[0].name != "typing" || conn.events[0].payload["isTyping"] != true {
		t.Errorf("typing on = %+v", conn.events[0])
	}
	if conn.events[1].payload["isTyping"] != false {
		t.Errorf("typing off = %+v", conn.events[1])
	}
}

func TestEmitRateLimitInfo(t *testing.T) {
	conn := &fakeConn{}
	em := newConnEmitter(conn)

	reset := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	em.EmitRateLimitInfo(ratelimit.Decision{
		Allowed:   true,
		Remaining: ratelimit.Window{Minute: 59, Hour: 499},
		Limit:     ratelimit.Window{Minute: 60, Hour: 500},
		ResetAt:   ratelimit.ResetAt{Minute: reset, Hour: reset.Add(time.Hour)},
	})

	ev := conn.events[0]
	if ev.name != "rate-limit-info" {
		t.Fatalf("event name = %q", ev.name)
	}
	remaining := ev.payload["remaining"].(map[string]int)
	if remaining["minute"] != 59 || remaining["hour"] != 499 {
		t.Errorf("remaining = %v", remaining)
	}
	resetAt := ev.payload["resetAt"].(map[string]string)
	if resetAt["minute"] != "2025-06-01T12:00:00Z" {
		t.Errorf("resetAt.minute = %q", resetAt["minute"])
	}
}

func TestEmitDebug(t *testing.T) {
	conn := &fakeConn{}
	em := newConnEmitter(conn)

	em.EmitDebug("c1", "request", map[string]interface{}{"historyLen": 3})

	ev := conn.events[0]
	if ev.name != "debug-info" {
		t.Fatalf("event name = %q", ev.name)
	}
	if ev.payload["type"] != "request" || ev.payload["chatId"] != "c1" || ev.payload["historyLen"] != 3 {
		t.Errorf("payload = %+v", ev.payload)
	}
}
