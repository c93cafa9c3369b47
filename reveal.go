package main

import "strconv"

// The reveal sequencer replays a player's previously kept traits one at a
// time before their keep/skip buttons unlock. The shared record lives at
// games/{pin}/traitReveal and is only meaningful while its trait ID matches
// the game's current trait; everything else about the pacing (init
// detection, settle lockout, close timer) is client-local and re-derived
// from durable state.

// revealSignature identifies one reveal opportunity: a particular trait
// being served to a player holding a particular number of kept traits.
// Clients remember the last signature they initialized so redelivered
// snapshots of the same state cannot re-arm the sequence.
func revealSignature(g *Game) (string, *Player, bool) {
	if g == nil || !g.IsGameStarted || g.Ended() || g.CurrentTrait == nil {
		return "", nil, false
	}
	current := g.CurrentPlayer()
	if current == nil || len(current.AcceptedTraits) == 0 {
		return "", nil, false
	}
	sig := g.CurrentTrait.Key() + ":" + strconv.Itoa(len(current.AcceptedTraits))
	return sig, current, true
}

// initReveal writes the initial shownCount=1 record, unless a reveal for
// the same trait already exists or the trait moved on since the caller's
// snapshot. Racing initializers from repeated snapshot deliveries all
// settle on one record.
func initReveal(st *Store, pin, traitKey string, player *Player) {
	st.Transaction(gamePath(pin), func(cur any) any {
		g, ok := decodeGame(pin, cur)
		if !ok {
			return cur
		}
		if g.CurrentTrait == nil || g.CurrentTrait.Key() != traitKey {
			return cur
		}
		if g.TraitReveal != nil && g.TraitReveal.TraitID == traitKey {
			return cur
		}
		g.TraitReveal = &RevealState{
			TraitID:    traitKey,
			Player:     player.Username,
			ShownCount: 1,
			Total:      len(player.AcceptedTraits),
			StartedAt:  nowMillis(),
		}
		return encodeGame(g)
	})
}

// AdvanceReveal bumps shownCount by one, capped at total. Only the active
// player may advance. Returns whether the reveal has now shown everything,
// along with the record's startedAt for the caller's close timer.
func AdvanceReveal(st *Store, cfg *Config, pin, playerKey string) (done bool, startedAt int64, err error) {
	st.Transaction(gamePath(pin), func(cur any) any {
		g, ok := decodeGame(pin, cur)
		if !ok {
			err = errGameNotFound
			return cur
		}
		if !canAct(g, playerKey, actionAdvanceReveal) {
			err = errNotYourTurn
			return cur
		}
		if !g.TraitReveal.ValidFor(g) {
			err = errNoReveal
			return cur
		}

		if g.TraitReveal.ShownCount < g.TraitReveal.Total {
			g.TraitReveal.ShownCount++
		}
		done = g.TraitReveal.Done()
		startedAt = g.TraitReveal.StartedAt
		g.LastActivityAt = nowMillis()
		return encodeGame(g)
	})
	if err != nil {
		return false, 0, err
	}

	logf(cfg, "GAMES: reveal advanced in %s by %q (done=%v)", pin, playerKey, done)
	return done, startedAt, nil
}

// clearReveal nulls the record if it is still the one identified by
// startedAt and has shown everything. Stale clears fall through.
func clearReveal(st *Store, pin string, startedAt int64) {
	st.Transaction(gamePath(pin)+"/traitReveal", func(cur any) any {
		r := decodeReveal(cur)
		if r == nil || r.StartedAt != startedAt || !r.Done() {
			return cur
		}
		return nil
	})
}

// revealTracker is the per-client sequencer state: signature-deduped init,
// plus the local settle lockout that keeps decision buttons disabled for a
// beat after the reveal closes.
type revealTracker struct {
	lastSig     string
	active      bool
	settleUntil int64
}

// observe processes one snapshot on behalf of the active player's client:
// initializes the shared record when a fresh reveal opportunity appears,
// and tracks the active/settle state used for decision gating.
func (t *revealTracker) observe(st *Store, cfg *Config, pin string, g *Game) {
	if sig, player, ok := revealSignature(g); ok && sig != t.lastSig {
		t.lastSig = sig
		if !g.TraitReveal.ValidFor(g) {
			initReveal(st, pin, g.CurrentTrait.Key(), player)
			t.active = true
			return
		}
	}

	valid := g != nil && g.TraitReveal.ValidFor(g)
	if t.active && !valid {
		t.active = false
		t.settleUntil = nowMillis() + cfg.decisionSettle.Milliseconds()
	} else if valid {
		t.active = true
	}
}

// decisionLocked reports whether the given player's keep/skip buttons
// should stay disabled: a reveal is running for the current trait, or the
// post-reveal settle window has not elapsed.
func (t *revealTracker) decisionLocked(g *Game, playerKey string) bool {
	if g == nil {
		return true
	}
	if g.TraitReveal.ValidFor(g) {
		current := g.CurrentPlayer()
		if current != nil && current.Key == playerKey {
			return true
		}
	}
	return nowMillis() < t.settleUntil
}
