package client

import (
	"fmt"
	"testing"
	"time"

	"ridelink/internal/protocol"
	"ridelink/pkg/logger"
)

func chatN(n int) protocol.ChatMessage {
	return protocol.ChatMessage{
		RideID:      "ride-1",
		MessageID:   fmt.Sprintf("msg-%03d", n),
		SenderID:    "rider-1",
		Body:        fmt.Sprintf("message %d", n),
		TimestampMs: time.Now().UnixMilli(),
	}
}

func TestQueueFIFO(t *testing.T) {
	q := newOutboundQueue(0, logger.Nop())

	for i := 0; i < 5; i++ {
		q.Enqueue(chatN(i))
	}
	if q.Len() != 5 {
		t.Fatalf("Len = %d, want 5", q.Len())
	}

	for i := 0; i < 5; i++ {
		e, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue %d: queue empty", i)
		}
		msg := e.env.(protocol.ChatMessage)
		want := fmt.Sprintf("msg-%03d", i)
		if msg.MessageID != want {
			t.Errorf("Dequeue %d = %s, want %s", i, msg.MessageID, want)
		}
	}

	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue on empty queue returned an entry")
	}
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	q := newOutboundQueue(3, logger.Nop())

	for i := 0; i < 5; i++ {
		q.Enqueue(chatN(i))
	}
	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}

	// 0 and 1 were dropped; 2, 3, 4 remain in order.
	for _, want := range []string{"msg-002", "msg-003", "msg-004"} {
		e, ok := q.Dequeue()
		if !ok {
			t.Fatal("queue empty early")
		}
		if got := e.env.(protocol.ChatMessage).MessageID; got != want {
			t.Errorf("Dequeue = %s, want %s", got, want)
		}
	}
}

func TestQueueRequeuePreservesOrder(t *testing.T) {
	q := newOutboundQueue(0, logger.Nop())

	for i := 0; i < 3; i++ {
		q.Enqueue(chatN(i))
	}

	// Simulate a failed mid-flush send of the first entry.
	e, _ := q.Dequeue()
	q.Requeue(e)

	for _, want := range []string{"msg-000", "msg-001", "msg-002"} {
		e, ok := q.Dequeue()
		if !ok {
			t.Fatal("queue empty early")
		}
		if got := e.env.(protocol.ChatMessage).MessageID; got != want {
			t.Errorf("Dequeue = %s, want %s", got, want)
		}
	}
}
