package wallet

import "sync"

// dispatcher delivers watcher callbacks one at a time, in post order, on its
// own goroutine. Posting never blocks, so a watcher may call back into the
// Config without deadlocking.
type dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	done   chan struct{}
	closed bool
	idle   *sync.Cond
	busy   bool
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	d.idle = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) post(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}
		for {
			d.mu.Lock()
			if len(d.queue) == 0 || d.closed {
				d.busy = false
				d.idle.Broadcast()
				d.mu.Unlock()
				break
			}
			fn := d.queue[0]
			d.queue = d.queue[1:]
			d.busy = true
			d.mu.Unlock()
			fn()
		}
	}
}

// flush waits until every callback posted so far has run.
func (d *dispatcher) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for !d.closed && (len(d.queue) > 0 || d.busy) {
		d.idle.Wait()
	}
}

func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.queue = nil
	d.idle.Broadcast()
	d.mu.Unlock()
	close(d.done)
}
