// Package dispatch fans preview frames out to registered consumers.
//
// Each consumer has a single in-flight slot: a frame is handed over only
// when the consumer finished the previous one, otherwise it is dropped.
// Frames are never queued.
package dispatch

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/hw/sensor"
	"github.com/cjeanneret/camsession/internal/metrics"
)

// Frame is a preview frame with the rotation it must be displayed at.
type Frame struct {
	sensor.Frame
	Rotation int
}

// Consumer processes frames. Consume runs on its own goroutine, one frame
// at a time.
type Consumer interface {
	Consume(f Frame)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(f Frame)

func (fn ConsumerFunc) Consume(f Frame) { fn(f) }

type slot struct {
	name     string
	consumer Consumer
	busy     atomic.Bool

	dispatched atomic.Uint64
	dropped    atomic.Uint64

	dispatchedMetric prometheus.Counter
	droppedMetric    prometheus.Counter
}

// Stats counts what happened to frames offered to one consumer.
type Stats struct {
	Dispatched uint64
	Dropped    uint64
}

// Dispatcher is also the registry components attach consumers to; it is
// created by the session and passed to them explicitly.
type Dispatcher struct {
	mu    sync.RWMutex
	slots map[string]*slot
	wg    sync.WaitGroup
}

// New returns an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{slots: make(map[string]*slot)}
}

// Register adds a consumer under a unique name.
func (d *Dispatcher) Register(name string, c Consumer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.slots[name]; ok {
		return fmt.Errorf("consumer %q already registered", name)
	}
	d.slots[name] = &slot{
		name:             name,
		consumer:         c,
		dispatchedMetric: metrics.FramesDispatched.WithLabelValues(name),
		droppedMetric:    metrics.FramesDropped.WithLabelValues(name),
	}
	debug.Verbose("Dispatch: consumer %q registered", name)
	return nil
}

// Unregister removes a consumer. A frame it is processing completes.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	delete(d.slots, name)
	d.mu.Unlock()
}

// Lookup returns the consumer registered under name.
func (d *Dispatcher) Lookup(name string) (Consumer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.slots[name]
	if !ok {
		return nil, false
	}
	return s.consumer, true
}

// Names lists registered consumers, sorted.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.slots))
	for n := range d.slots {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Stats returns the counters of one consumer.
func (d *Dispatcher) Stats(name string) (Stats, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.slots[name]
	if !ok {
		return Stats{}, false
	}
	return Stats{Dispatched: s.dispatched.Load(), Dropped: s.dropped.Load()}, true
}

// Dispatch offers f to every consumer. It never blocks.
func (d *Dispatcher) Dispatch(f Frame) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.slots {
		if !s.busy.CompareAndSwap(false, true) {
			s.dropped.Add(1)
			s.droppedMetric.Inc()
			continue
		}
		s.dispatched.Add(1)
		s.dispatchedMetric.Inc()
		d.wg.Add(1)
		go d.run(s, f)
	}
}

func (d *Dispatcher) run(s *slot, f Frame) {
	defer d.wg.Done()
	defer s.busy.Store(false)
	defer func() {
		if r := recover(); r != nil {
			debug.Error(fmt.Errorf("consumer %q panicked on frame %d: %v", s.name, f.Seq, r))
		}
	}()
	s.consumer.Consume(f)
}

// Wait blocks until every in-flight frame is processed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
