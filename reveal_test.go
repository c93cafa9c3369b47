package main

import (
	"errors"
	"testing"
	"time"
)

// revealFixture starts a two-player game and runs one full keep each, so the
// host is back on turn holding one accepted trait.
func revealFixture(t *testing.T, st *Store, cfg *Config) string {
	t.Helper()
	cfg.traitsPerPlayer = 4
	pin := startedGame(t, st, cfg, []string{"Antti", "Bea"})
	if _, err := Decide(st, cfg, pin, "Antti", choiceKeep); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if _, err := Decide(st, cfg, pin, "Bea", choiceKeep); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	return pin
}

func TestRevealSignature(t *testing.T) {
	st := NewStore()
	cfg := testConfig()
	pin := revealFixture(t, st, cfg)

	g, _ := decodeGame(pin, st.Read(gamePath(pin)))
	sig, player, ok := revealSignature(g)
	if !ok {
		t.Fatalf("no reveal opportunity for a player with kept traits")
	}
	if player.Key != "Antti" {
		t.Fatalf("opportunity player = %q", player.Key)
	}
	if want := g.CurrentTrait.Key() + ":1"; sig != want {
		t.Fatalf("signature = %q, want %q", sig, want)
	}

	// No opportunity before the first kept trait.
	st2 := NewStore()
	pin2 := startedGame(t, st2, cfg, []string{"Antti", "Bea"})
	g2, _ := decodeGame(pin2, st2.Read(gamePath(pin2)))
	if _, _, ok := revealSignature(g2); ok {
		t.Fatalf("opportunity reported for a player with no kept traits")
	}
}

func TestInitRevealOnce(t *testing.T) {
	st := NewStore()
	cfg := testConfig()
	pin := revealFixture(t, st, cfg)

	g, _ := decodeGame(pin, st.Read(gamePath(pin)))
	initReveal(st, pin, g.CurrentTrait.Key(), g.Players["Antti"])

	g, _ = decodeGame(pin, st.Read(gamePath(pin)))
	r := g.TraitReveal
	if r == nil || r.ShownCount != 1 || r.Total != 1 || r.Player != "Antti" {
		t.Fatalf("reveal record = %+v", r)
	}
	first := r.StartedAt

	// A second init for the same trait is absorbed.
	initReveal(st, pin, g.CurrentTrait.Key(), g.Players["Antti"])
	g, _ = decodeGame(pin, st.Read(gamePath(pin)))
	if g.TraitReveal.StartedAt != first {
		t.Fatalf("repeated init replaced the record")
	}

	// An init for a trait that is no longer current is dropped.
	initReveal(st, pin, "some-other-trait", g.Players["Antti"])
	g, _ = decodeGame(pin, st.Read(gamePath(pin)))
	if g.TraitReveal == nil || g.TraitReveal.TraitID == "some-other-trait" {
		t.Fatalf("stale init landed: %+v", g.TraitReveal)
	}
}

func TestAdvanceReveal(t *testing.T) {
	st := NewStore()
	cfg := testConfig()
	cfg.traitsPerPlayer = 6
	pin := startedGame(t, st, cfg, []string{"Antti", "Bea"})

	// Antti keeps three traits across three of his turns.
	for i := 0; i < 3; i++ {
		if _, err := Decide(st, cfg, pin, "Antti", choiceKeep); err != nil {
			t.Fatalf("Decide: %v", err)
		}
		if _, err := Decide(st, cfg, pin, "Bea", choiceSkip); err != nil {
			t.Fatalf("Decide: %v", err)
		}
	}

	if _, _, err := AdvanceReveal(st, cfg, pin, "Antti"); !errors.Is(err, errNoReveal) {
		t.Fatalf("advance without record err = %v, want errNoReveal", err)
	}

	g, _ := decodeGame(pin, st.Read(gamePath(pin)))
	initReveal(st, pin, g.CurrentTrait.Key(), g.Players["Antti"])

	if _, _, err := AdvanceReveal(st, cfg, pin, "Bea"); !errors.Is(err, errNotYourTurn) {
		t.Fatalf("bystander advance err = %v, want errNotYourTurn", err)
	}

	done, _, err := AdvanceReveal(st, cfg, pin, "Antti")
	if err != nil {
		t.Fatalf("AdvanceReveal: %v", err)
	}
	if done {
		t.Fatalf("done after 2 of 3")
	}
	done, startedAt, err := AdvanceReveal(st, cfg, pin, "Antti")
	if err != nil {
		t.Fatalf("AdvanceReveal: %v", err)
	}
	if !done {
		t.Fatalf("not done after showing all 3")
	}

	// Further advances stay capped at total.
	done, _, err = AdvanceReveal(st, cfg, pin, "Antti")
	if err != nil || !done {
		t.Fatalf("capped advance = %v, %v", done, err)
	}
	g, _ = decodeGame(pin, st.Read(gamePath(pin)))
	if g.TraitReveal.ShownCount != 3 {
		t.Fatalf("shownCount = %d, want 3", g.TraitReveal.ShownCount)
	}

	clearReveal(st, pin, startedAt)
	g, _ = decodeGame(pin, st.Read(gamePath(pin)))
	if g.TraitReveal != nil {
		t.Fatalf("clear left the record: %+v", g.TraitReveal)
	}
}

func TestClearRevealStaleSafe(t *testing.T) {
	st := NewStore()
	cfg := testConfig()
	pin := revealFixture(t, st, cfg)

	g, _ := decodeGame(pin, st.Read(gamePath(pin)))
	initReveal(st, pin, g.CurrentTrait.Key(), g.Players["Antti"])
	g, _ = decodeGame(pin, st.Read(gamePath(pin)))

	// Wrong timestamp, and a record that has not shown everything: both fall
	// through.
	clearReveal(st, pin, g.TraitReveal.StartedAt+1)
	clearReveal(st, pin, g.TraitReveal.StartedAt)
	got, _ := decodeGame(pin, st.Read(gamePath(pin)))
	if got.TraitReveal == nil {
		t.Fatalf("stale clear removed an unfinished reveal")
	}
}

func TestRevealTrackerDedupes(t *testing.T) {
	st := NewStore()
	cfg := testConfig()
	cfg.decisionSettle = 30 * time.Millisecond
	pin := revealFixture(t, st, cfg)

	var tracker revealTracker
	g, _ := decodeGame(pin, st.Read(gamePath(pin)))
	tracker.observe(st, cfg, pin, g)

	g, _ = decodeGame(pin, st.Read(gamePath(pin)))
	if g.TraitReveal == nil {
		t.Fatalf("observe did not initialize the reveal")
	}
	first := g.TraitReveal.StartedAt
	if !tracker.decisionLocked(g, "Antti") {
		t.Fatalf("decision unlocked while reveal is running")
	}
	if tracker.decisionLocked(g, "Bea") {
		t.Fatalf("bystander locked by someone else's reveal")
	}

	// Redelivered snapshots of the same state do not restart the sequence.
	tracker.observe(st, cfg, pin, g)
	tracker.observe(st, cfg, pin, g)
	g, _ = decodeGame(pin, st.Read(gamePath(pin)))
	if g.TraitReveal.StartedAt != first {
		t.Fatalf("redelivery re-initialized the reveal")
	}

	// Finish and clear: the tracker flips into its settle window, and once
	// that elapses the decision unlocks. The same signature must not re-arm.
	done, startedAt, err := AdvanceReveal(st, cfg, pin, "Antti")
	if err != nil || !done {
		t.Fatalf("AdvanceReveal = %v, %v", done, err)
	}
	clearReveal(st, pin, startedAt)

	g, _ = decodeGame(pin, st.Read(gamePath(pin)))
	tracker.observe(st, cfg, pin, g)
	if g.TraitReveal != nil {
		t.Fatalf("reveal record survived the clear")
	}
	if !tracker.decisionLocked(g, "Antti") {
		t.Fatalf("decision unlocked inside the settle window")
	}
	waitFor(t, func() bool {
		return !tracker.decisionLocked(g, "Antti")
	})

	tracker.observe(st, cfg, pin, g)
	g, _ = decodeGame(pin, st.Read(gamePath(pin)))
	if g.TraitReveal != nil {
		t.Fatalf("cleared signature re-armed the reveal")
	}
}
