package collab

import (
	"sync"
)

// delivers items to `dispatch` in add order, one at a time.
// `Drain` is safe to call reentrantly from inside `dispatch` and from many goroutines.
// A call that cannot take the drain lock returns immediately, and the active drainer delivers its items.
type dispatchQueue[T any] struct {
	stateLock sync.Mutex
	items     []T
	closed    bool

	drainLock sync.Mutex
	dispatch  func(T)
}

func newDispatchQueue[T any](dispatch func(T)) *dispatchQueue[T] {
	return &dispatchQueue[T]{
		items:    []T{},
		dispatch: dispatch,
	}
}

func (self *dispatchQueue[T]) Add(item T) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed {
		return false
	}
	self.items = append(self.items, item)
	return true
}

func (self *dispatchQueue[T]) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.items)
}

func (self *dispatchQueue[T]) pop() (T, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if len(self.items) == 0 {
		var empty T
		return empty, false
	}
	item := self.items[0]
	var empty T
	self.items[0] = empty
	self.items = self.items[1:]
	return item, true
}

func (self *dispatchQueue[T]) Drain() {
	for {
		if !self.drainLock.TryLock() {
			return
		}
		func() {
			defer self.drainLock.Unlock()
			for {
				item, ok := self.pop()
				if !ok {
					return
				}
				self.dispatch(item)
			}
		}()
		// an add may have raced the unlock
		if self.Len() == 0 {
			return
		}
	}
}

// drops pending items. Later adds are ignored.
func (self *dispatchQueue[T]) Close() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.closed = true
	self.items = []T{}
}
