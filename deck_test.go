package main

import (
	"errors"
	"fmt"
	"testing"
)

// startedGame creates a game, joins every username (the first is the host),
// submits a full trait set for each player, and starts the game.
func startedGame(t *testing.T, st *Store, cfg *Config, usernames []string) string {
	t.Helper()

	pin, err := CreateGame(st, cfg, usernames[0], modeStandard, 0, false)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	keys := []string{sanitizePlayerKey(usernames[0])}
	for _, name := range usernames[1:] {
		key, err := JoinGame(st, cfg, pin, name)
		if err != nil {
			t.Fatalf("JoinGame %s: %v", name, err)
		}
		keys = append(keys, key)
	}
	for i, key := range keys {
		texts := make([]string, cfg.traitsPerPlayer)
		for j := range texts {
			texts[j] = fmt.Sprintf("%s trait %d", usernames[i], j)
		}
		if err := SubmitTraits(st, cfg, pin, key, texts); err != nil {
			t.Fatalf("SubmitTraits %s: %v", key, err)
		}
	}
	if err := StartGame(st, cfg, pin, keys[0]); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	return pin
}

func TestBuildPoolPreservesTraits(t *testing.T) {
	pending := map[string][]Trait{
		"Antti": {
			{ID: "a1", Text: "Funny", Order: 0},
			{ID: "a2", Text: "Messy", Order: 1},
		},
		"Bea": {
			{ID: "b1", Text: "Kind", Order: 0},
			{ID: "b2", Text: "Loud", Order: 1},
		},
	}

	pool := buildPool(pending)
	if len(pool) != 4 {
		t.Fatalf("pool size = %d, want 4", len(pool))
	}
	seen := make(map[string]bool)
	for i, tr := range pool {
		if tr.Order != i {
			t.Fatalf("pool[%d].Order = %d, want %d", i, tr.Order, i)
		}
		seen[tr.ID] = true
	}
	for _, id := range []string{"a1", "a2", "b1", "b2"} {
		if !seen[id] {
			t.Fatalf("trait %q lost in shuffle", id)
		}
	}
}

func TestBuildPoolShuffles(t *testing.T) {
	pending := map[string][]Trait{"Antti": nil}
	for i := 0; i < 20; i++ {
		pending["Antti"] = append(pending["Antti"], Trait{ID: fmt.Sprintf("t%d", i), Order: i})
	}

	different := false
	for attempt := 0; attempt < 10 && !different; attempt++ {
		pool := buildPool(pending)
		for i, tr := range pool {
			if tr.ID != fmt.Sprintf("t%d", i) {
				different = true
				break
			}
		}
	}
	if !different {
		t.Fatalf("10 shuffles of 20 traits all came out in submission order")
	}
}

func TestStartGameKickoff(t *testing.T) {
	st := NewStore()
	cfg := testConfig()
	cfg.traitsPerPlayer = 3

	pin := startedGame(t, st, cfg, []string{"Antti", "Bea"})

	g, ok := decodeGame(pin, st.Read(gamePath(pin)))
	if !ok {
		t.Fatalf("game missing after start")
	}
	if !g.IsGameStarted {
		t.Fatalf("isGameStarted not set")
	}
	if g.CurrentRound != 1 || g.CurrentPlayerIndex != 0 {
		t.Fatalf("round/index = %d/%d, want 1/0", g.CurrentRound, g.CurrentPlayerIndex)
	}
	if len(g.Pool) != 6 {
		t.Fatalf("pool size = %d, want 6", len(g.Pool))
	}
	if g.CurrentTrait == nil || g.CurrentTrait.Key() != g.Pool[0].Key() {
		t.Fatalf("current trait is not the top of the deck: %+v", g.CurrentTrait)
	}
	if len(g.UsedTraits) != 1 || g.UsedTraits[0] != g.CurrentTrait.Key() {
		t.Fatalf("usedTraits = %v", g.UsedTraits)
	}
	if g.Countdown != nil {
		t.Fatalf("countdown survived kickoff")
	}
	if len(g.Pending) != 0 {
		t.Fatalf("per-player trait groups not cleaned up: %v", g.Pending)
	}
}

func TestStartGameValidation(t *testing.T) {
	st := NewStore()
	cfg := testConfig()
	cfg.traitsPerPlayer = 2

	pin, err := CreateGame(st, cfg, "Antti", modeStandard, 0, false)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if _, err := JoinGame(st, cfg, pin, "Bea"); err != nil {
		t.Fatalf("JoinGame: %v", err)
	}

	if err := StartGame(st, cfg, pin, "Bea"); !errors.Is(err, errNotHost) {
		t.Fatalf("non-host start err = %v, want errNotHost", err)
	}
	if err := StartGame(st, cfg, pin, "Antti"); !errors.Is(err, errTraitsIncomplete) {
		t.Fatalf("incomplete traits err = %v, want errTraitsIncomplete", err)
	}

	if err := SubmitTraits(st, cfg, pin, "Antti", []string{"a", "b"}); err != nil {
		t.Fatalf("SubmitTraits: %v", err)
	}
	if err := SubmitTraits(st, cfg, pin, "Bea", []string{"c", "d"}); err != nil {
		t.Fatalf("SubmitTraits: %v", err)
	}

	// A player who left does not block the start.
	if _, err := JoinGame(st, cfg, pin, "Ceci"); err != nil {
		t.Fatalf("JoinGame: %v", err)
	}
	if err := StartGame(st, cfg, pin, "Antti"); !errors.Is(err, errTraitsIncomplete) {
		t.Fatalf("lobby with incomplete player err = %v, want errTraitsIncomplete", err)
	}
	if err := LeaveGame(st, cfg, pin, "Ceci"); err != nil {
		t.Fatalf("LeaveGame: %v", err)
	}

	if err := StartGame(st, cfg, pin, "Antti"); err != nil {
		t.Fatalf("StartGame: %v", err)
	}
	if err := StartGame(st, cfg, pin, "Antti"); !errors.Is(err, errGameStarted) {
		t.Fatalf("double start err = %v, want errGameStarted", err)
	}
}

func TestStartGameNotEnoughPlayers(t *testing.T) {
	st := NewStore()
	cfg := testConfig()
	cfg.traitsPerPlayer = 1

	pin, err := CreateGame(st, cfg, "Antti", modeStandard, 0, false)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	if err := SubmitTraits(st, cfg, pin, "Antti", []string{"a"}); err != nil {
		t.Fatalf("SubmitTraits: %v", err)
	}
	if err := StartGame(st, cfg, pin, "Antti"); !errors.Is(err, errNotEnoughPlayers) {
		t.Fatalf("solo start err = %v, want errNotEnoughPlayers", err)
	}
}

func TestNumericUsernameTraitsSurvive(t *testing.T) {
	st := NewStore()
	cfg := testConfig()
	cfg.traitsPerPlayer = 2

	pin, err := CreateGame(st, cfg, "Antti", modeStandard, 0, false)
	if err != nil {
		t.Fatalf("CreateGame: %v", err)
	}
	key, err := JoinGame(st, cfg, pin, "123")
	if err != nil {
		t.Fatalf("JoinGame: %v", err)
	}
	if key != "123" {
		t.Fatalf("player key = %q, want 123", key)
	}

	if err := SubmitTraits(st, cfg, pin, "Antti", []string{"Funny", "Messy"}); err != nil {
		t.Fatalf("SubmitTraits: %v", err)
	}
	if err := SubmitTraits(st, cfg, pin, "123", []string{"Kind", "Loud"}); err != nil {
		t.Fatalf("SubmitTraits: %v", err)
	}

	// The digit-only player key must come back from a decode cycle like any
	// other grouping key.
	g, _ := decodeGame(pin, st.Read(gamePath(pin)))
	if len(g.Pending["123"]) != 2 {
		t.Fatalf("pending group for digit-only key = %v", g.Pending)
	}

	if err := StartGame(st, cfg, pin, "Antti"); err != nil {
		t.Fatalf("StartGame: %v", err)
	}

	g, _ = decodeGame(pin, st.Read(gamePath(pin)))
	if len(g.Pool) != 4 {
		t.Fatalf("pool has %d traits, want 4", len(g.Pool))
	}
	texts := make(map[string]bool)
	for _, tr := range g.Pool {
		texts[tr.Text] = true
	}
	for _, want := range []string{"Funny", "Messy", "Kind", "Loud"} {
		if !texts[want] {
			t.Fatalf("trait %q missing from the shuffled pool", want)
		}
	}
}

func TestStartGameEmptyPoolAborts(t *testing.T) {
	st := NewStore()
	cfg := testConfig()

	// Hand-built lobby whose players claim completion but submitted nothing.
	st.Write("games/XYZXYZ", map[string]any{
		"gamepin":     "XYZXYZ",
		"host":        "Antti",
		"mode":        modeStandard,
		"roundsTotal": 6,
		"players": map[string]any{
			"Antti": map[string]any{"username": "Antti", "isHost": true, "traitsCompleted": true, "order": 0},
			"Bea":   map[string]any{"username": "Bea", "traitsCompleted": true, "order": 1},
		},
	})

	if err := StartGame(st, cfg, "XYZXYZ", "Antti"); !errors.Is(err, errEmptyPool) {
		t.Fatalf("empty pool err = %v, want errEmptyPool", err)
	}
	g, _ := decodeGame("XYZXYZ", st.Read("games/XYZXYZ"))
	if g.IsGameStarted || g.CurrentRound != 0 {
		t.Fatalf("aborted start mutated the game: %+v", g)
	}
}
