package collab

import (
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestDispatchQueueReentrant(t *testing.T) {
	var queue *dispatchQueue[int]
	out := []int{}
	queue = newDispatchQueue(func(item int) {
		out = append(out, item)
		if item < 10 {
			// a nested add is delivered after the current item returns
			queue.Add(item + 10)
			queue.Drain()
			assert.Equal(t, out[len(out)-1], item)
		}
	})

	for i := 0; i < 10; i += 1 {
		queue.Add(i)
	}
	queue.Drain()

	assert.Equal(t, len(out), 20)
	for i := 0; i < 10; i += 1 {
		assert.Equal(t, out[i], i)
		assert.Equal(t, out[10+i], 10+i)
	}
	assert.Equal(t, queue.Len(), 0)
}

func TestDispatchQueueConcurrent(t *testing.T) {
	n := 1000
	m := 8

	var outLock sync.Mutex
	out := map[int][]int{}
	queue := newDispatchQueue(func(item [2]int) {
		outLock.Lock()
		defer outLock.Unlock()
		out[item[0]] = append(out[item[0]], item[1])
	})

	var wg sync.WaitGroup
	for j := 0; j < m; j += 1 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i += 1 {
				queue.Add([2]int{j, i})
				queue.Drain()
			}
		}()
	}
	wg.Wait()
	queue.Drain()

	// per producer order is preserved
	for j := 0; j < m; j += 1 {
		assert.Equal(t, len(out[j]), n)
		for i := 0; i < n; i += 1 {
			assert.Equal(t, out[j][i], i)
		}
	}
}

func TestDispatchQueueClose(t *testing.T) {
	out := []string{}
	queue := newDispatchQueue(func(item string) {
		out = append(out, item)
	})
	assert.Equal(t, queue.Add("a"), true)
	queue.Close()
	assert.Equal(t, queue.Add("b"), false)
	queue.Drain()
	assert.Equal(t, len(out), 0)
}
