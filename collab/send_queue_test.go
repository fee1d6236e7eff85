package collab

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestSendQueue(t *testing.T) {
	queue := newSendQueue(ByteCount(1024))

	size, byteCount := queue.QueueSize()
	assert.Equal(t, 0, size)
	assert.Equal(t, ByteCount(0), byteCount)
	assert.Equal(t, queue.PeekFirst(), nil)
	assert.Equal(t, queue.RemoveFirst(), nil)

	n := 100
	for i := 0; i < n; i += 1 {
		sequenceNumber, err := queue.Add([]byte{byte(i), 0, 0, 0, 0, 0, 0, 0, 0, 0})
		assert.Equal(t, err, nil)
		assert.Equal(t, uint64(i), sequenceNumber)
	}

	// one notify is pending regardless of the number of adds
	select {
	case <-queue.notify:
	default:
		t.Fatal("expected notify")
	}
	select {
	case <-queue.notify:
		t.Fatal("unexpected notify")
	default:
	}

	// full
	_, err := queue.Add(make([]byte, 100))
	assert.Equal(t, err, ErrSendQueueFull)

	for i := 0; i < n; i += 1 {
		size, byteCount = queue.QueueSize()
		assert.Equal(t, n-i, size)
		assert.Equal(t, ByteCount(10*(n-i)), byteCount)

		first := queue.PeekFirst()
		assert.Equal(t, uint64(i), first.sequenceNumber)
		assert.Equal(t, byte(i), first.framed[0])
		assert.Equal(t, first, queue.RemoveFirst())
	}
	size, byteCount = queue.QueueSize()
	assert.Equal(t, 0, size)
	assert.Equal(t, ByteCount(0), byteCount)

	// a single large message is accepted into an empty queue
	_, err = queue.Add(make([]byte, 4096))
	assert.Equal(t, err, nil)
	_, err = queue.Add([]byte{1})
	assert.Equal(t, err, ErrSendQueueFull)

	queue.Close()
	size, _ = queue.QueueSize()
	assert.Equal(t, 0, size)
	_, err = queue.Add([]byte{1})
	assert.Equal(t, err, ErrConnectionClosed)
}
