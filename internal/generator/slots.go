package generator

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// errSlotDone ends a slot without it being a failure.
var errSlotDone = errors.New("slot done")

// spawnWithStop starts a slot and registers its stop channel. e.stopChans
// holds exactly the slots that are running and have not been told to stop.
func (e *Engine) spawnWithStop(ctx context.Context) chan struct{} {
	stopCh := make(chan struct{})
	slotID := int(e.nextID.Add(1))
	e.activeCount.Add(1)
	e.wg.Add(1)

	e.stopMu.Lock()
	e.stopChans = append(e.stopChans, stopCh)
	e.stopMu.Unlock()

	go func(id int, stop chan struct{}) {
		defer func() {
			e.forgetSlot(stop)
			e.wg.Done()
			e.activeCount.Add(-1)
		}()
		defer e.recoverPanic(id)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-e.aborted:
				return
			default:
				if err := e.iterate(ctx, id); err != nil {
					return
				}
			}
		}
	}(slotID, stopCh)

	return stopCh
}

// recoverPanic keeps a panicking slot from taking the process down. Panics
// inside an iteration are already turned into failures; this catches the rest.
func (e *Engine) recoverPanic(slotID int) {
	if r := recover(); r != nil {
		log.WithFields(log.Fields{
			"slot":  slotID,
			"panic": fmt.Sprint(r),
		}).Error("Worker slot panicked")
	}
}

// liveSlots is the number of slots that have not been told to stop. Stopped
// slots may still be finishing an iteration and are excluded.
func (e *Engine) liveSlots() int {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()
	return len(e.stopChans)
}

// forgetSlot drops the stop channel of a slot that ended on its own.
func (e *Engine) forgetSlot(stop chan struct{}) {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()
	for i, ch := range e.stopChans {
		if ch == stop {
			e.stopChans = append(e.stopChans[:i], e.stopChans[i+1:]...)
			return
		}
	}
}

func (e *Engine) stopSlots(n int) {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()
	toStop := n
	if toStop > len(e.stopChans) {
		toStop = len(e.stopChans)
	}
	for i := 0; i < toStop; i++ {
		close(e.stopChans[i])
	}
	e.stopChans = e.stopChans[toStop:]
}

func (e *Engine) stopAllSlots() {
	e.stopMu.Lock()
	for _, ch := range e.stopChans {
		close(ch)
	}
	e.stopChans = nil
	e.stopMu.Unlock()
}
