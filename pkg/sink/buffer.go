package sink

import (
	"sync"

	"github.com/ExamTrust/ProctorGate/pkg/domain/secevent"
)

// ringBuffer is the last-resort delivery tier: a bounded FIFO of undelivered
// events. When full, the oldest event is dropped to admit the newest; the
// drop is surfaced to the caller so it can be logged and counted, never
// silently exceeded.
type ringBuffer struct {
	mu       sync.Mutex
	events   []secevent.SecurityEvent
	capacity int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{capacity: capacity}
}

// push appends an event, returning the dropped oldest event when the buffer
// was full.
func (b *ringBuffer) push(evt secevent.SecurityEvent) (secevent.SecurityEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var dropped secevent.SecurityEvent
	var didDrop bool
	if len(b.events) >= b.capacity {
		dropped = b.events[0]
		b.events = append(b.events[:0], b.events[1:]...)
		didDrop = true
	}
	b.events = append(b.events, evt)
	return dropped, didDrop
}

// drain removes and returns every buffered event in FIFO order.
func (b *ringBuffer) drain() []secevent.SecurityEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	return out
}

// requeue puts undeliverable events back at the front, preserving order.
func (b *ringBuffer) requeue(events []secevent.SecurityEvent) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]secevent.SecurityEvent, 0, len(events)+len(b.events))
	merged = append(merged, events...)
	merged = append(merged, b.events...)
	if len(merged) > b.capacity {
		merged = merged[len(merged)-b.capacity:]
	}
	b.events = merged
}

func (b *ringBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
