package collab

import (
	"context"
	"sync"
	"time"
)

type roundTripResult struct {
	message Message
	err     error
}

// correlates `RoundTripRequest` handles with their pending callers
type roundTripTable struct {
	stateLock  sync.Mutex
	nextHandle uint64
	pending    map[uint64]chan roundTripResult
	closed     bool
}

func newRoundTripTable() *roundTripTable {
	return &roundTripTable{
		nextHandle: 1,
		pending:    map[uint64]chan roundTripResult{},
	}
}

func (self *roundTripTable) open() (uint64, chan roundTripResult, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed {
		return 0, nil, ErrConnectionClosed
	}
	handle := self.nextHandle
	self.nextHandle += 1
	result := make(chan roundTripResult, 1)
	self.pending[handle] = result
	return handle, result, nil
}

func (self *roundTripTable) resolve(handle uint64, message Message) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	result, ok := self.pending[handle]
	if !ok {
		return false
	}
	delete(self.pending, handle)
	result <- roundTripResult{message: message}
	return true
}

func (self *roundTripTable) remove(handle uint64) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	delete(self.pending, handle)
}

func (self *roundTripTable) PendingCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.pending)
}

// fails every pending request with `err`. Later opens fail with `ErrConnectionClosed`.
func (self *roundTripTable) close(err error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.closed = true
	for handle, result := range self.pending {
		result <- roundTripResult{err: err}
		delete(self.pending, handle)
	}
}

// blocks the calling goroutine until the response, connection close, `ctx` done, or `timeout`.
// A zero timeout waits without bound.
func sendWithResult(
	ctx context.Context,
	roundTrips *roundTripTable,
	send func(Message) error,
	message Message,
	timeout time.Duration,
) (Message, error) {
	handle, result, err := roundTrips.open()
	if err != nil {
		return nil, err
	}
	defer roundTrips.remove(handle)

	err = send(&RoundTripRequest{
		Handle:  handle,
		Message: message,
	})
	if err != nil {
		return nil, err
	}

	var timeoutC <-chan time.Time
	if 0 < timeout {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case r := <-result:
		return r.message, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeoutC:
		return nil, ErrTimeout
	}
}
