package main

import (
	"crypto/rand"
	"encoding/binary"
	"sort"
)

// randIntn returns a random int in [0, n) using crypto/rand.
func randIntn(n int) int {
	if n <= 1 {
		return 0
	}
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return int(binary.BigEndian.Uint32(buf[:]) % uint32(n))
}

// buildPool flattens the per-player submissions into one deck, shuffles it
// uniformly, and re-indexes every entry. The per-player grouping does not
// survive: the output is one deck for the whole game.
func buildPool(pending map[string][]Trait) []Trait {
	keys := make([]string, 0, len(pending))
	for key := range pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var pool []Trait
	for _, key := range keys {
		pool = append(pool, pending[key]...)
	}

	// Fisher-Yates
	for i := len(pool) - 1; i > 0; i-- {
		j := randIntn(i + 1)
		pool[i], pool[j] = pool[j], pool[i]
	}

	for i := range pool {
		pool[i].Order = i
	}
	return pool
}

// StartGame is the kickoff transition: it builds the shuffled pool and flips
// the game into its first round in one atomic commit, so no client can
// observe a started game with an unset trait or a half-written deck.
// Host-only, and every player still in the lobby must have submitted their
// traits. An empty combined pool aborts with no state mutation.
func StartGame(st *Store, cfg *Config, pin, playerKey string) error {
	var serr error
	st.Transaction(gamePath(pin), func(cur any) any {
		g, ok := decodeGame(pin, cur)
		if !ok {
			serr = errGameNotFound
			return cur
		}
		host, ok := g.Players[playerKey]
		if !ok || !host.IsHost {
			serr = errNotHost
			return cur
		}
		if g.IsGameStarted {
			serr = errGameStarted
			return cur
		}

		active := 0
		for _, p := range g.Players {
			if p.Left() {
				continue
			}
			active++
			if !p.TraitsCompleted {
				serr = errTraitsIncomplete
				return cur
			}
		}
		if active < 2 {
			serr = errNotEnoughPlayers
			return cur
		}

		pool := buildPool(g.Pending)
		if len(pool) == 0 {
			serr = errEmptyPool
			return cur
		}

		first := pool[0]
		g.Pool = pool
		g.CurrentTrait = &first
		g.UsedTraits = []string{first.Key()}
		g.CurrentPlayerIndex = 0
		g.CurrentRound = 1
		g.IsGameStarted = true
		g.Countdown = nil
		g.LastActivityAt = nowMillis()
		return encodeGame(g)
	})
	if serr != nil {
		return serr
	}

	// The flat pool is committed; the stale per-player groupings are now
	// cosmetic. Their removal is best-effort and never blocks the start.
	cleanupPendingTraits(st, cfg, pin)

	logf(cfg, "GAMES: game %s started", pin)
	return nil
}

func cleanupPendingTraits(st *Store, cfg *Config, pin string) {
	g, ok := decodeGame(pin, st.Read(gamePath(pin)))
	if !ok {
		return
	}
	for key := range g.Pending {
		st.Delete(gamePath(pin) + "/traits/pending/" + key)
		logf(cfg, "GAMES: removed submitted traits for %q in %s", key, pin)
	}
}
