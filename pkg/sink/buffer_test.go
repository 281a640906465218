package sink

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ExamTrust/ProctorGate/pkg/domain/secevent"
)

func bufEvent(sessionID string) secevent.SecurityEvent {
	return secevent.SecurityEvent{SessionID: sessionID}
}

func TestRingBuffer_PushAndDrain(t *testing.T) {
	b := newRingBuffer(3)

	for i := 0; i < 3; i++ {
		_, dropped := b.push(bufEvent(strconv.Itoa(i)))
		assert.False(t, dropped)
	}
	assert.Equal(t, 3, b.len())

	out := b.drain()
	assert.Equal(t, 0, b.len())
	assert.Equal(t, []string{"0", "1", "2"}, sessionIDs(out))
}

func TestRingBuffer_DropsOldestWhenFull(t *testing.T) {
	b := newRingBuffer(2)

	b.push(bufEvent("0"))
	b.push(bufEvent("1"))
	dropped, didDrop := b.push(bufEvent("2"))

	assert.True(t, didDrop)
	assert.Equal(t, "0", dropped.SessionID)
	assert.Equal(t, []string{"1", "2"}, sessionIDs(b.drain()))
}

func TestRingBuffer_RequeuePreservesOrder(t *testing.T) {
	b := newRingBuffer(5)

	b.push(bufEvent("3"))
	b.requeue([]secevent.SecurityEvent{bufEvent("1"), bufEvent("2")})

	assert.Equal(t, []string{"1", "2", "3"}, sessionIDs(b.drain()))
}

func TestRingBuffer_RequeueRespectsCapacity(t *testing.T) {
	b := newRingBuffer(2)

	b.push(bufEvent("3"))
	b.requeue([]secevent.SecurityEvent{bufEvent("1"), bufEvent("2")})

	// The newest events win when the merged backlog exceeds capacity.
	assert.Equal(t, []string{"2", "3"}, sessionIDs(b.drain()))
}

func sessionIDs(events []secevent.SecurityEvent) []string {
	ids := make([]string, len(events))
	for i, evt := range events {
		ids[i] = evt.SessionID
	}
	return ids
}
