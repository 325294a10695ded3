package app

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// TimerKind names one of the two timer slots a room owns.
type TimerKind int

const (
	// TimerQuestionDeadline ends the question phase (natural timeout or reveal grace).
	TimerQuestionDeadline TimerKind = iota
	// TimerResultsAdvance moves from results to the next question.
	TimerResultsAdvance
	timerKinds
)

func (k TimerKind) String() string {
	switch k {
	case TimerQuestionDeadline:
		return "question_deadline"
	case TimerResultsAdvance:
		return "results_advance"
	}
	return "unknown"
}

type timerSlot struct {
	timer clockwork.Timer
	gen   uint64
}

// TimerRegistry holds at most one pending timer per slot. It is owned by a
// single room actor; only the fire callback runs on another goroutine and it
// touches nothing but its captured kind and generation.
type TimerRegistry struct {
	clock clockwork.Clock
	fire  func(kind TimerKind, gen uint64)
	slots [timerKinds]timerSlot
}

func NewTimerRegistry(clock clockwork.Clock, fire func(kind TimerKind, gen uint64)) *TimerRegistry {
	return &TimerRegistry{clock: clock, fire: fire}
}

// Arm cancels whatever is pending in the slot and schedules a new timer.
func (r *TimerRegistry) Arm(kind TimerKind, d time.Duration) uint64 {
	r.Cancel(kind)
	slot := &r.slots[kind]
	slot.gen++
	gen := slot.gen
	slot.timer = r.clock.AfterFunc(d, func() { r.fire(kind, gen) })
	return gen
}

// Cancel stops the pending timer of a slot. Safe to call on an empty slot.
func (r *TimerRegistry) Cancel(kind TimerKind) {
	slot := &r.slots[kind]
	if slot.timer != nil {
		slot.timer.Stop()
		slot.timer = nil
	}
}

// CancelAll clears both slots.
func (r *TimerRegistry) CancelAll() {
	for k := TimerKind(0); k < timerKinds; k++ {
		r.Cancel(k)
	}
}

// Consume reports whether a fired timer is still the live one for its slot and
// clears the slot if so. A cancelled timer that fired anyway returns false.
func (r *TimerRegistry) Consume(kind TimerKind, gen uint64) bool {
	if kind < 0 || kind >= timerKinds {
		return false
	}
	slot := &r.slots[kind]
	if slot.timer == nil || slot.gen != gen {
		return false
	}
	slot.timer = nil
	return true
}

// pending reports whether a slot currently holds a live timer.
func (r *TimerRegistry) pending(kind TimerKind) bool {
	return r.slots[kind].timer != nil
}
