package main

import (
	"sort"
	"time"
)

// Ranking is one row of an end-screen leaderboard, a pure projection of the
// players map. Leaderboards are recomputed at screen entry, never synced.
type Ranking struct {
	Username string
	Accepted int
	Kept     int
	Skipped  int
}

func rankings(g *Game) []Ranking {
	rows := make([]Ranking, 0, len(g.Players))
	for _, p := range g.Players {
		rows = append(rows, Ranking{
			Username: p.Username,
			Accepted: len(p.AcceptedTraits),
			Kept:     p.KeepCount,
			Skipped:  p.SkipCount,
		})
	}
	return rows
}

// LongestDates ranks players by how far their date made it: kept-trait
// count descending, raw keep count breaking ties, then username.
func LongestDates(g *Game) []Ranking {
	rows := rankings(g)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Accepted != rows[j].Accepted {
			return rows[i].Accepted > rows[j].Accepted
		}
		if rows[i].Kept != rows[j].Kept {
			return rows[i].Kept > rows[j].Kept
		}
		return rows[i].Username < rows[j].Username
	})
	return rows
}

// MostSkips ranks players by skip count descending, then username.
func MostSkips(g *Game) []Ranking {
	rows := rankings(g)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Skipped != rows[j].Skipped {
			return rows[i].Skipped > rows[j].Skipped
		}
		return rows[i].Username < rows[j].Username
	})
	return rows
}

// RequestReplay resolves the replay race: every presser runs the same
// transaction against the ended game's replay record, and the record admits
// exactly one candidate. Everyone then adopts the committed pin, the single
// winner bootstraps the new game, and all pressers upsert themselves into
// its player list.
func RequestReplay(st *Store, cfg *Config, pin, username string, isPlus bool) (*Replay, bool, error) {
	g, ok := decodeGame(pin, st.Read(gamePath(pin)))
	if !ok {
		return nil, false, errGameNotFound
	}
	if !g.Ended() {
		return nil, false, errGameRunning
	}

	candidate := randomGamepin()
	committed := st.Transaction(gamePath(pin)+"/replay", func(cur any) any {
		if existing := decodeReplay(cur); existing != nil {
			return cur
		}
		return encodeReplay(&Replay{
			NewGamepin: candidate,
			Host:       username,
			CreatedAt:  nowMillis(),
		})
	})

	r := decodeReplay(committed)
	if r == nil {
		return nil, false, errReplayUnavailable
	}

	won := r.NewGamepin == candidate && r.Host == username
	if won {
		if err := CreateGameAt(st, cfg, r.NewGamepin, username, g.Mode, g.RoundsTotal, isPlus); err != nil {
			logf(cfg, "GAMES: replay bootstrap of %s from %s failed: %v", r.NewGamepin, pin, err)
			return nil, false, errReplayUnavailable
		}
		logf(cfg, "GAMES: %q won the replay race for %s -> %s", username, pin, r.NewGamepin)
	}

	if err := joinReplayGame(st, cfg, r.NewGamepin, username); err != nil {
		return nil, false, err
	}

	return r, won, nil
}

// joinReplayGame upserts a presser into the new game. Losers can get here
// before the winner's bootstrap has landed, so a missing game is retried
// briefly rather than treated as fatal.
func joinReplayGame(st *Store, cfg *Config, pin, username string) error {
	var err error
	for attempt := 0; attempt < 50; attempt++ {
		if _, err = JoinGame(st, cfg, pin, username); err == nil {
			return nil
		}
		if err != errGameNotFound {
			return err
		}
		time.Sleep(20 * time.Millisecond)
	}
	return errReplayUnavailable
}

// scheduleTeardown arranges the opportunistic end-screen cleanup: a fixed
// delay after the game ends, whichever timer fires first deletes the whole
// subtree. Deleting an already-deleted game is a no-op, so double execution
// across clients is harmless.
func scheduleTeardown(st *Store, cfg *Config, pin string, timers *timerSet) {
	timers.after(cfg.teardownDelay, func() {
		st.Delete(gamePath(pin))
		logf(cfg, "GAMES: deleted ended game %s", pin)
	})
}

// reapIdleGames deletes games whose lastActivityAt is older than the
// session timeout. Returns how many were removed.
func reapIdleGames(st *Store, cfg *Config) int {
	games := asMap(st.Read("games"))
	if games == nil {
		return 0
	}

	cutoff := time.Now().Add(-cfg.sessionTimeout).UnixMilli()
	reaped := 0
	for pin, raw := range games {
		last := asInt64(asMap(raw)["lastActivityAt"])
		if last >= cutoff {
			continue
		}
		st.Delete(gamePath(pin))
		logf(cfg, "GAMES: reaped idle game %s", pin)
		reaped++
	}
	return reaped
}

func reaperLoop(done <-chan struct{}, st *Store, cfg *Config) {
	if cfg.sessionTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(cfg.sessionTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			reapIdleGames(st, cfg)
		}
	}
}
