package main

import (
	"fmt"
	"testing"
)

func runSimulation(t *testing.T, cfg *Config, usernames []string, choose func(round int, trait *Trait) string) (*Simulation, *Game) {
	t.Helper()

	st := NewStore()
	sim := NewSimulation(st, cfg, usernames)
	if choose != nil {
		for _, bot := range sim.Bots {
			bot.Choose = choose
		}
	}
	if err := sim.Setup(modeStandard, 0); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := sim.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	g, err := sim.Run(1000)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return sim, g
}

func TestSimulationFullGame(t *testing.T) {
	cfg := testConfig()
	cfg.traitsPerPlayer = 6

	sim, g := runSimulation(t, cfg, []string{"Antti", "Bea", "Ceci"}, nil)

	// 3 players over 6 rounds is 18 decisions, exactly the size of the
	// combined pool: every submitted trait gets served exactly once.
	if sim.Decisions != 18 {
		t.Fatalf("decisions = %d, want 18", sim.Decisions)
	}
	if !g.Ended() || g.CurrentRound != g.RoundsTotal+1 {
		t.Fatalf("end state round = %d of %d", g.CurrentRound, g.RoundsTotal)
	}
	if g.CurrentTrait != nil {
		t.Fatalf("trait left current after the final decision: %+v", g.CurrentTrait)
	}

	if len(g.UsedTraits) != 18 {
		t.Fatalf("usedTraits = %d, want 18", len(g.UsedTraits))
	}
	served := make(map[string]bool)
	for _, key := range g.UsedTraits {
		if served[key] {
			t.Fatalf("trait %q served twice", key)
		}
		served[key] = true
	}
	for _, tr := range g.Pool {
		if !served[tr.Key()] {
			t.Fatalf("trait %q never served", tr.Key())
		}
	}

	keeps, skips := 0, 0
	for _, p := range g.Players {
		keeps += p.KeepCount
		skips += p.SkipCount
		if len(p.AcceptedTraits) > p.KeepCount {
			t.Fatalf("player %q accepted more traits than they kept", p.Key)
		}
	}
	if keeps+skips != 18 {
		t.Fatalf("keep+skip = %d, want 18", keeps+skips)
	}
}

func TestSimulationAllKeep(t *testing.T) {
	cfg := testConfig()
	cfg.traitsPerPlayer = 6

	sim, g := runSimulation(t, cfg, []string{"Antti", "Bea"},
		func(round int, trait *Trait) string { return choiceKeep })

	if sim.Decisions != 12 {
		t.Fatalf("decisions = %d, want 12", sim.Decisions)
	}
	for _, p := range g.Players {
		if p.KeepCount != 6 || p.SkipCount != 0 {
			t.Fatalf("player %q counters = keep %d skip %d", p.Key, p.KeepCount, p.SkipCount)
		}
		if len(p.AcceptedTraits) != 6 {
			t.Fatalf("player %q accepted %d traits, want 6", p.Key, len(p.AcceptedTraits))
		}
	}
}

func TestSimulationAllSkip(t *testing.T) {
	cfg := testConfig()
	cfg.traitsPerPlayer = 6

	sim, g := runSimulation(t, cfg, []string{"Antti", "Bea"},
		func(round int, trait *Trait) string { return choiceSkip })

	if sim.Decisions != 12 {
		t.Fatalf("decisions = %d, want 12", sim.Decisions)
	}
	for _, p := range g.Players {
		if p.SkipCount != 6 || len(p.AcceptedTraits) != 0 {
			t.Fatalf("player %q = %+v", p.Key, p)
		}
	}
	if g.TraitReveal != nil {
		t.Fatalf("reveal record in an all-skip game: %+v", g.TraitReveal)
	}
}

func TestSimulationOverlayFreshness(t *testing.T) {
	cfg := testConfig()
	cfg.traitsPerPlayer = 4

	sim, _ := runSimulation(t, cfg, []string{"Antti", "Bea", "Ceci"}, nil)

	// Every decision publishes a decision flash and a next-turn banner, and
	// each bot renders each exactly once despite redeliveries.
	want := 2 * sim.Decisions
	for _, bot := range sim.Bots {
		if bot.Rendered != want {
			t.Fatalf("bot %q rendered %d overlays, want %d", bot.Username, bot.Rendered, want)
		}
	}
}

func TestSimulationReplay(t *testing.T) {
	cfg := testConfig()
	cfg.traitsPerPlayer = 2

	sim, _ := runSimulation(t, cfg, []string{"Antti", "Bea", "Ceci"}, nil)

	replays, wins, err := sim.PressReplayAll(false)
	if err != nil {
		t.Fatalf("PressReplayAll: %v", err)
	}

	winners := 0
	for _, won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("replay winners = %d, want 1", winners)
	}
	for i := 1; i < len(replays); i++ {
		if replays[i].NewGamepin != replays[0].NewGamepin {
			t.Fatalf("bots disagree on the replay pin: %v", replays)
		}
	}

	ng, ok := decodeGame(replays[0].NewGamepin, sim.st.Read(gamePath(replays[0].NewGamepin)))
	if !ok {
		t.Fatalf("replay game missing")
	}
	if len(ng.Players) != len(sim.Bots) {
		t.Fatalf("replay lobby has %d players, want %d", len(ng.Players), len(sim.Bots))
	}
}

func TestSimulationManyPlayers(t *testing.T) {
	cfg := testConfig()
	cfg.traitsPerPlayer = 2

	usernames := make([]string, 7)
	for i := range usernames {
		usernames[i] = fmt.Sprintf("Player %d", i+1)
	}
	sim, g := runSimulation(t, cfg, usernames, nil)

	if sim.Decisions != 7*6 {
		t.Fatalf("decisions = %d, want %d", sim.Decisions, 7*6)
	}
	// 14 traits for 42 decisions: the deck runs dry mid-game and the rest of
	// the rounds are played traitless.
	if len(g.UsedTraits) != 14 {
		t.Fatalf("usedTraits = %d, want 14", len(g.UsedTraits))
	}
}
