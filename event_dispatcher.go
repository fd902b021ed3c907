package goAuthClient

import (
	"context"
	"sync"
	"sync/atomic"
)

// eventDispatcher hands events to the sink on its own goroutine so token
// renewal and logout never wait on a slow consumer. A nil dispatcher accepts
// and discards everything.
type eventDispatcher struct {
	sink       EventSink
	dropIfFull bool
	queue      chan SessionEvent
	stop       chan struct{}
	worker     sync.WaitGroup
	dropped    atomic.Uint64
	stopped    atomic.Bool
	stopOnce   sync.Once
}

func newEventDispatcher(cfg EventsConfig, sink EventSink) *eventDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &eventDispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan SessionEvent, max(cfg.BufferSize, 1)),
		stop:       make(chan struct{}),
	}
	d.worker.Add(1)
	go d.deliver()
	return d
}

func (d *eventDispatcher) deliver() {
	defer d.worker.Done()

	ctx := context.Background()
	for {
		select {
		case ev := <-d.queue:
			d.sink.Emit(ctx, ev)
		case <-d.stop:
			for {
				select {
				case ev := <-d.queue:
					d.sink.Emit(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

// terminal events end a session. Subscribers rely on seeing them, so they
// are never dropped.
func terminal(t SessionEventType) bool {
	switch t {
	case EventSessionExpired, EventSessionLogout, EventBootstrapFailed:
		return true
	}
	return false
}

// Emit queues ev. With DropIfFull a full buffer counts a drop for everything
// except terminal events, which wait for room like the blocking mode does.
// A blocked Emit returns early on ctx or Close.
func (d *eventDispatcher) Emit(ctx context.Context, ev SessionEvent) {
	if d == nil || d.stopped.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull && !terminal(ev.Type) {
		select {
		case d.queue <- ev:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- ev:
	case <-ctx.Done():
	case <-d.stop:
	}
}

// Close flushes queued events and stops the worker. Safe to call repeatedly.
func (d *eventDispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		close(d.stop)
		d.worker.Wait()
	})
}

func (d *eventDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
