package databus

import (
	"context"
	"sync"
	"time"

	"moff.io/wallet-sync/internal/store"
	"moff.io/wallet-sync/pkg/common"
	"moff.io/wallet-sync/pkg/log"
)

const (
	defaultBuffer  = 256
	publishTimeout = 10 * time.Second
)

// Fanout turns store updates into StateChanged events and hands them to every
// sink from its own goroutine. Store callbacks never wait on a sink; when the
// buffer is full the update is dropped and logged.
type Fanout struct {
	st     *store.Store
	sinks  []Sink
	events chan Event
	now    func() time.Time

	mu     sync.Mutex
	unsub  store.Unsubscribe
	cancel context.CancelFunc
	done   chan struct{}
}

func NewFanout(st *store.Store, sinks ...Sink) *Fanout {
	return &Fanout{
		st:     st,
		sinks:  sinks,
		events: make(chan Event, defaultBuffer),
		now:    time.Now,
	}
}

// Start subscribes to the store. The current snapshot is published first.
func (f *Fanout) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done != nil {
		return
	}
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	go f.loop(ctx, f.done)
	f.unsub = f.st.Subscribe(func(s store.Snapshot) {
		select {
		case f.events <- NewStateChanged(s, f.now()):
		default:
			log.Warnf("databus - buffer full, dropped state %s", common.MustGetJSONString(s))
		}
	})
}

func (f *Fanout) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-f.events:
			f.publish(ctx, e)
		}
	}
}

func (f *Fanout) publish(ctx context.Context, e Event) {
	for _, sink := range f.sinks {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		if err := sink.Publish(pctx, e); err != nil {
			log.Errorf("databus - publish to %s: %v", sink.Name(), err)
		}
		cancel()
	}
}

// Stop unsubscribes, publishes what is still buffered and waits for the
// loop to exit.
func (f *Fanout) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done == nil {
		return
	}
	f.unsub()
	f.cancel()
	<-f.done
	f.done = nil
	for {
		select {
		case e := <-f.events:
			f.publish(context.Background(), e)
		default:
			return
		}
	}
}
