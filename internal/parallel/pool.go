// Package parallel runs row bands of software kernels across goroutines.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Workers is a fixed set of goroutines with one queue each. An idle worker
// steals from the other queues before blocking on its own, so uneven bands
// (rays that leave the atmosphere early versus rays that hit the ground)
// still balance.
//
// Workers is safe for concurrent use.
type Workers struct {
	n      int
	queues []chan func()
	done   chan struct{}
	wg     sync.WaitGroup

	running atomic.Bool
}

// New starts n workers. If n is 0 or negative, GOMAXPROCS is used.
func New(n int) *Workers {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}

	w := &Workers{
		n:      n,
		queues: make([]chan func(), n),
		done:   make(chan struct{}),
	}
	depth := max(n*4, 8)
	for i := range n {
		w.queues[i] = make(chan func(), depth)
	}

	w.running.Store(true)
	w.wg.Add(n)
	for i := range n {
		go w.loop(i)
	}
	return w
}

func (w *Workers) loop(id int) {
	defer w.wg.Done()

	own := w.queues[id]
	for {
		select {
		case <-w.done:
			drain(own)
			return
		case fn := <-own:
			fn()
		default:
			if fn := w.steal(id); fn != nil {
				fn()
				continue
			}
			select {
			case <-w.done:
				drain(own)
				return
			case fn := <-own:
				fn()
			}
		}
	}
}

func drain(q chan func()) {
	for {
		select {
		case fn := <-q:
			fn()
		default:
			return
		}
	}
}

func (w *Workers) steal(id int) func() {
	for i := range w.n {
		if i == id {
			continue
		}
		select {
		case fn := <-w.queues[i]:
			return fn
		default:
		}
	}
	return nil
}

// Run executes every task and waits for all of them. After Close, tasks
// run on the calling goroutine.
func (w *Workers) Run(tasks []func()) {
	if len(tasks) == 0 {
		return
	}
	if !w.running.Load() {
		for _, fn := range tasks {
			fn()
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i, fn := range tasks {
		task := func() {
			defer wg.Done()
			fn()
		}
		select {
		case w.queues[i%w.n] <- task:
		case <-w.done:
			task()
		}
	}
	wg.Wait()
}

// Rows splits [0, height) into bands of at most band rows and calls fn for
// each band in parallel. It returns after every band is done.
func (w *Workers) Rows(height, band int, fn func(y0, y1 int)) {
	if height <= 0 {
		return
	}
	if band <= 0 {
		band = max(1, height/(w.n*4))
	}

	tasks := make([]func(), 0, (height+band-1)/band)
	for y0 := 0; y0 < height; y0 += band {
		y1 := min(y0+band, height)
		tasks = append(tasks, func() { fn(y0, y1) })
	}
	w.Run(tasks)
}

// Close stops the workers after the queued work is done. Close is safe to
// call more than once.
func (w *Workers) Close() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	close(w.done)
	w.wg.Wait()
}

// Size returns the number of workers.
func (w *Workers) Size() int { return w.n }
