package subscription

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// stoppableTimer is the subset of *time.Timer the debouncer depends on, so
// tests can substitute a fake that fires synchronously under the caller's
// control instead of real wall-clock time (spec.md §8 scenario 6's 2000 ms
// window is exercised without sleeping).
type stoppableTimer interface {
	Stop() bool
}

// slotDebouncer implements the slot-notification debouncing of spec.md
// §4.7: at most one callback round per window, carrying only the latest
// slot seen, fanned out to every registered subscriber with per-callback
// panic isolation.
type slotDebouncer struct {
	window    time.Duration
	afterFunc func(d time.Duration, f func()) stoppableTimer
	log       *logrus.Entry

	mu           sync.Mutex
	subscribers  map[uint64]SlotCallback
	latestSlot   uint64
	haveSlot     bool
	timerRunning bool
	timer        stoppableTimer
}

func newSlotDebouncer(window time.Duration, afterFunc func(time.Duration, func()) stoppableTimer, log *logrus.Entry) *slotDebouncer {
	if afterFunc == nil {
		afterFunc = func(d time.Duration, f func()) stoppableTimer { return time.AfterFunc(d, f) }
	}
	return &slotDebouncer{
		window:      window,
		afterFunc:   afterFunc,
		log:         log,
		subscribers: make(map[uint64]SlotCallback),
	}
}

// register adds or replaces the callback for subscriber id.
func (d *slotDebouncer) register(id uint64, cb SlotCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[id] = cb
}

// unregister removes subscriber id so it no longer receives future windows.
func (d *slotDebouncer) unregister(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subscribers, id)
}

// push records a newly observed slot and, if no window is currently
// pending, starts one.
func (d *slotDebouncer) push(slot uint64) {
	d.mu.Lock()
	d.latestSlot = slot
	d.haveSlot = true
	start := !d.timerRunning
	if start {
		d.timerRunning = true
	}
	d.mu.Unlock()

	if start {
		d.timer = d.afterFunc(d.window, d.fire)
	}
}

// fire delivers the latest slot to every registered subscriber exactly
// once, then allows the next push to open a new window.
func (d *slotDebouncer) fire() {
	d.mu.Lock()
	slot := d.latestSlot
	have := d.haveSlot
	d.haveSlot = false
	d.timerRunning = false
	cbs := make([]SlotCallback, 0, len(d.subscribers))
	for _, cb := range d.subscribers {
		cbs = append(cbs, cb)
	}
	d.mu.Unlock()

	if !have {
		return
	}
	for _, cb := range cbs {
		d.invoke(cb, slot)
	}
}

func (d *slotDebouncer) invoke(cb SlotCallback, slot uint64) {
	defer func() {
		if r := recover(); r != nil && d.log != nil {
			d.log.WithField("panic", r).Error("slot subscriber callback panicked")
		}
	}()
	cb(slot)
}

// stop cancels any pending window so no orphaned timer survives a Destroy
// (spec.md §5 "no orphaned timers may remain after Destroy").
func (d *slotDebouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timerRunning = false
}
