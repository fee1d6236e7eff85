package collab

import (
	"container/heap"
	"sync"
)

type sendItem struct {
	sequenceNumber uint64
	framed         []byte

	// the index of the item in the heap
	heapIndex int
}

func (self *sendItem) ByteCount() ByteCount {
	return ByteCount(len(self.framed))
}

// outbound framed messages of one networked connection, ordered by `sequenceNumber`.
// Sequence numbers are issued in `Add` order, which is the order messages were framed.
type sendQueue struct {
	orderedItems       []*sendItem
	byteCount          ByteCount
	maxByteCount       ByteCount
	nextSequenceNumber uint64
	closed             bool
	stateLock          sync.Mutex

	// signaled (non-blocking) on each add
	notify chan struct{}
}

func newSendQueue(maxByteCount ByteCount) *sendQueue {
	sendQueue := &sendQueue{
		orderedItems: []*sendItem{},
		maxByteCount: maxByteCount,
		notify:       make(chan struct{}, 1),
	}
	heap.Init(sendQueue)
	return sendQueue
}

func (self *sendQueue) QueueSize() (int, ByteCount) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.orderedItems), self.byteCount
}

// a single message larger than the max is accepted when the queue is empty
func (self *sendQueue) Add(framed []byte) (uint64, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed {
		return 0, ErrConnectionClosed
	}
	byteCount := ByteCount(len(framed))
	if 0 < len(self.orderedItems) && 0 < self.maxByteCount && self.maxByteCount < self.byteCount+byteCount {
		return 0, ErrSendQueueFull
	}

	item := &sendItem{
		sequenceNumber: self.nextSequenceNumber,
		framed:         framed,
	}
	self.nextSequenceNumber += 1
	heap.Push(self, item)
	self.byteCount += byteCount

	select {
	case self.notify <- struct{}{}:
	default:
	}
	return item.sequenceNumber, nil
}

func (self *sendQueue) PeekFirst() *sendItem {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if len(self.orderedItems) == 0 {
		return nil
	}
	return self.orderedItems[0]
}

func (self *sendQueue) RemoveFirst() *sendItem {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if len(self.orderedItems) == 0 {
		return nil
	}

	item := heap.Remove(self, 0).(*sendItem)
	self.byteCount -= item.ByteCount()
	return item
}

// drops all queued items. Later adds fail.
func (self *sendQueue) Close() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.closed = true
	self.orderedItems = []*sendItem{}
	self.byteCount = 0
}

// heap.Interface

func (self *sendQueue) Push(x any) {
	item := x.(*sendItem)
	item.heapIndex = len(self.orderedItems)
	self.orderedItems = append(self.orderedItems, item)
}

func (self *sendQueue) Pop() any {
	n := len(self.orderedItems)
	i := n - 1
	item := self.orderedItems[i]
	self.orderedItems[i] = nil
	self.orderedItems = self.orderedItems[:n-1]
	return item
}

// sort.Interface

func (self *sendQueue) Len() int {
	return len(self.orderedItems)
}

func (self *sendQueue) Less(i int, j int) bool {
	return self.orderedItems[i].sequenceNumber < self.orderedItems[j].sequenceNumber
}

func (self *sendQueue) Swap(i int, j int) {
	a := self.orderedItems[i]
	b := self.orderedItems[j]
	b.heapIndex = i
	self.orderedItems[i] = b
	a.heapIndex = j
	self.orderedItems[j] = a
}
