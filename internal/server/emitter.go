package server

import (
	"time"

	"github.com/eternisai/enchanted-chat/internal/ratelimit"
)

// eventConn is the emit surface of a socket connection. Satisfied by
// socketio.Conn; tests fake it.
type eventConn interface {
	ID() string
	Emit(event string, args ...interface{})
}

// connEmitter translates pipeline events into socket events for one
// connection. Payload shapes are part of the client contract.
type connEmitter struct {
	conn eventConn
}

func newConnEmitter(conn eventConn) *connEmitter {
	return &connEmitter{conn: conn}
}

func (e *connEmitter) EmitMessageResponse(chatID, message string, isComplete bool) {
	e.conn.Emit("message-response", map[string]interface{}{
		"chatId":     chatID,
		"message":    message,
		"isComplete": isComplete,
	})
}

func (e *connEmitter) EmitRateLimited(chatID, message string) {
	e.conn.Emit("message-response", map[string]interface{}{
		"chatId":      chatID,
		"message":     message,
		"isComplete":  true,
		"rateLimited": true,
	})
}

func (e *connEmitter) EmitTyping(chatID string, isTyping bool) {
	e.conn.Emit("typing", map[string]interface{}{
		"chatId":   chatID,
		"isTyping": isTyping,
	})
}

func (e *connEmitter) EmitRateLimitInfo(d ratelimit.Decision) {
	e.conn.Emit("rate-limit-info", map[string]interface{}{
		"remaining": map[string]int{
			"minute": d.Remaining.Minute,
			"hour":   d.Remaining.Hour,
		},
		"limit": map[string]int{
			"minute": d.Limit.Minute,
			"hour":   d.Limit.Hour,
		},
		"resetAt": map[string]string{
			"minute": d.ResetAt.Minute.UTC().Format(time.RFC3339),
			"hour":   d.ResetAt.Hour.UTC().Format(time.RFC3339),
		},
	})
}

func (e *connEmitter) EmitDebug(chatID, kind string, payload map[string]interface{}) {
	event := map[string]interface{}{
		"type":   kind,
		"chatId": chatID,
	}
	for k, v := range payload {
		event[k] = v
	}
	e.conn.Emit("debug-info", event)
}
