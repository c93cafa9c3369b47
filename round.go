package main

import "fmt"

// Keep/skip choices and the overlay kinds they map to. The original game
// shipped with Finnish overlay art, so the shared event kinds kept the
// Finnish names.
const (
	choiceKeep = "keep"
	choiceSkip = "skip"

	kindKeep = "juu"
	kindEi   = "ei"

	actionDecide        = "decide"
	actionAdvanceReveal = "advanceReveal"
)

// AuthorityCheck decides whether a player may perform an action in the
// given game state. The default implementation allows only the player whose
// turn it is; a backend-validated variant can be swapped in without
// touching the state machine.
type AuthorityCheck func(g *Game, playerKey, action string) bool

var canAct AuthorityCheck = defaultCanAct

func defaultCanAct(g *Game, playerKey, action string) bool {
	switch action {
	case actionDecide, actionAdvanceReveal:
		current := g.CurrentPlayer()
		return current != nil && current.Key == playerKey
	}
	return false
}

// DecideResult carries what the transition overlays need to announce after
// a committed decision.
type DecideResult struct {
	Kind           string
	NextPlayerName string
	NextDateNumber int
	Drink          bool
	Ended          bool
}

// Decide applies one keep/skip decision as a single atomic commit:
// accepted-traits append (on keep), counter bump, next-trait draw,
// used-traits set append, and turn/round advance all land together, so no
// observer ever sees a decided trait still current or a turn pointing at
// the wrong player.
func Decide(st *Store, cfg *Config, pin, playerKey, choice string) (DecideResult, error) {
	if choice != choiceKeep && choice != choiceSkip {
		return DecideResult{}, fmt.Errorf("unknown choice: %q", choice)
	}

	var (
		res  DecideResult
		derr error
	)

	st.Transaction(gamePath(pin), func(cur any) any {
		g, ok := decodeGame(pin, cur)
		if !ok {
			derr = errGameNotFound
			return cur
		}
		if !g.IsGameStarted {
			derr = errGameNotStarted
			return cur
		}
		if g.Ended() {
			derr = errGameOver
			return cur
		}
		if !canAct(g, playerKey, actionDecide) {
			derr = errNotYourTurn
			return cur
		}
		if g.TraitReveal.ValidFor(g) {
			derr = errRevealActive
			return cur
		}

		player := g.Players[playerKey]
		outgoing := g.CurrentTrait

		if choice == choiceKeep {
			if outgoing != nil {
				player.AcceptedTraits = append(player.AcceptedTraits, *outgoing)
			}
			player.KeepCount++
			res.Kind = kindKeep
		} else {
			// Skip bumps the counter only. The player's accepted
			// traits are kept, whatever the printed rules claim.
			player.SkipCount++
			res.Kind = kindEi
		}

		used := g.UsedSet()
		var candidates []Trait
		for _, t := range g.Pool {
			if used[t.Key()] {
				continue
			}
			if outgoing != nil && t.Key() == outgoing.Key() {
				continue
			}
			candidates = append(candidates, t)
		}

		var servedKey string
		if len(candidates) > 0 {
			next := candidates[randIntn(len(candidates))]
			g.CurrentTrait = &next
			servedKey = next.Key()
		} else {
			// Pool exhausted: the game continues with no trait to
			// decide until the round limit is reached.
			g.CurrentTrait = nil
			if outgoing != nil {
				servedKey = outgoing.Key()
			}
		}
		if servedKey != "" && !used[servedKey] {
			g.UsedTraits = append(g.UsedTraits, servedKey)
		}

		order := g.TurnOrder()
		g.CurrentPlayerIndex = (g.CurrentPlayerIndex + 1) % len(order)
		if g.CurrentPlayerIndex == 0 {
			g.CurrentRound++
		}

		// A stale reveal for the outgoing trait is invalid by trait-id
		// mismatch anyway; drop it rather than ship it to readers.
		if !g.TraitReveal.ValidFor(g) {
			g.TraitReveal = nil
		}

		next := order[g.CurrentPlayerIndex]
		res.NextPlayerName = next.Username
		res.NextDateNumber = next.DateNumber()
		res.Drink = res.NextDateNumber > 1 && res.NextDateNumber%5 == 0
		res.Ended = g.Ended()

		g.LastActivityAt = nowMillis()
		return encodeGame(g)
	})

	if derr != nil {
		return DecideResult{}, derr
	}

	logf(cfg, "GAMES: %q chose %s in %s (next %q, date %d)",
		playerKey, choice, pin, res.NextPlayerName, res.NextDateNumber)
	return res, nil
}
