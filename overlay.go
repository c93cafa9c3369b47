package main

import (
	"sync"
	"time"
)

// timerSet tracks deferred local work (overlay clears, reveal closes,
// teardown) so it can all be cancelled when the owning hub or client goes
// away. Cross-client state never depends on these firing: a timer that dies
// with its owner leaves at worst a stale record that the next event
// overwrites.
type timerSet struct {
	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[*time.Timer]struct{})}
}

func (ts *timerSet) after(d time.Duration, fn func()) {
	ts.mu.Lock()
	if ts.stopped {
		ts.mu.Unlock()
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		ts.mu.Lock()
		stopped := ts.stopped
		delete(ts.timers, t)
		ts.mu.Unlock()
		if !stopped {
			fn()
		}
	})
	ts.timers[t] = struct{}{}
	ts.mu.Unlock()
}

func (ts *timerSet) stopAll() {
	ts.mu.Lock()
	ts.stopped = true
	for t := range ts.timers {
		t.Stop()
		delete(ts.timers, t)
	}
	ts.mu.Unlock()
}

// publishTransition writes a transition event with a timestamp strictly
// greater than the one it replaces, so viewers comparing startedAt values
// always classify it as fresh even under clock ties.
func publishTransition(st *Store, pin string, e TransitionEvent) int64 {
	path := gamePath(pin) + "/animation"

	var startedAt int64
	st.Transaction(path, func(cur any) any {
		startedAt = nowMillis()
		if prev := decodeTransition(cur); prev != nil && startedAt <= prev.StartedAt {
			startedAt = prev.StartedAt + 1
		}
		e.StartedAt = startedAt
		return encodeTransition(&e)
	})
	return startedAt
}

func publishDecision(st *Store, pin, kind string) int64 {
	return publishTransition(st, pin, TransitionEvent{
		Phase: "decision",
		Kind:  kind,
	})
}

func publishNextTurn(st *Store, pin, playerName string, dateNumber int, drink bool) int64 {
	return publishTransition(st, pin, TransitionEvent{
		Phase:          "next",
		NextPlayerName: playerName,
		NextDateNumber: dateNumber,
		Drink:          drink,
	})
}

// clearTransition nulls the event only if it still carries the given
// timestamp. A fresher event published in the meantime is left alone. A
// failed or never-fired clear is cosmetic: the next decision overwrites the
// record regardless.
func clearTransition(st *Store, cfg *Config, pin string, startedAt int64) {
	st.Transaction(gamePath(pin)+"/animation", func(cur any) any {
		prev := decodeTransition(cur)
		if prev == nil || prev.StartedAt != startedAt {
			logf(cfg, "OVERLAY: skipped stale clear for %s (event moved on)", pin)
			return cur
		}
		return nil
	})
}

// announceDecision runs the full overlay sequence for one committed
// decision: the decision flash, then the next-turn banner, then the
// deferred self-clear of the banner. The sequence is driven by the acting
// side's local timers; everyone else just renders what lands in the store.
func announceDecision(st *Store, cfg *Config, pin string, res DecideResult, timers *timerSet) {
	publishDecision(st, pin, res.Kind)

	timers.after(cfg.overlayClear, func() {
		startedAt := publishNextTurn(st, pin, res.NextPlayerName, res.NextDateNumber, res.Drink)
		timers.after(cfg.overlayClear, func() {
			clearTransition(st, cfg, pin, startedAt)
		})
	})
}
