package main

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	gamepinAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	gamepinLength   = 6
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func gamePath(pin string) string {
	return "games/" + pin
}

// randomGamepin generates a crypto-random uppercase alphanumeric code.
// Uniqueness is established by the claiming transaction, not here.
func randomGamepin() string {
	buf := make([]byte, gamepinLength)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	out := make([]byte, gamepinLength)
	for i := range out {
		out[i] = gamepinAlphabet[int(buf[i])%len(gamepinAlphabet)]
	}
	return string(out)
}

func validateRounds(mode string, rounds int, isPlus bool) (int, error) {
	switch mode {
	case modeStandard, "":
		return defaultRounds, nil
	case modeCustom:
		if !isPlus {
			return 0, fmt.Errorf("custom mode requires a plus subscription")
		}
		if rounds == 0 {
			return defaultRounds, nil
		}
		if rounds < minRounds || rounds > maxRounds || rounds%2 != 0 {
			return 0, fmt.Errorf("invalid round count (must be an even number between %d and %d): %d", minRounds, maxRounds, rounds)
		}
		return rounds, nil
	default:
		return 0, fmt.Errorf("unknown game mode: %q", mode)
	}
}

// CreateGameAt claims the given gamepin and writes a fresh lobby-state game
// record with host as its only player. The claim is a transaction: if any
// game already lives at the pin, nothing is written and errPinTaken is
// returned.
func CreateGameAt(st *Store, cfg *Config, pin, host, mode string, rounds int, isPlus bool) error {
	if sanitizePlayerKey(host) == "" {
		return errPlayerNotFound
	}
	if mode == "" {
		mode = modeStandard
	}

	total, err := validateRounds(mode, rounds, isPlus)
	if err != nil {
		return err
	}

	now := nowMillis()
	g := &Game{
		Pin:            pin,
		Host:           host,
		Mode:           mode,
		RoundsTotal:    total,
		CreatedAt:      now,
		LastActivityAt: now,
		Players: map[string]*Player{
			sanitizePlayerKey(host): {
				Key:      sanitizePlayerKey(host),
				Username: host,
				IsHost:   true,
				Order:    0,
			},
		},
	}

	taken := false
	st.Transaction(gamePath(pin), func(cur any) any {
		if cur != nil {
			taken = true
			return cur
		}
		return encodeGame(g)
	})
	if taken {
		return errPinTaken
	}

	logf(cfg, "GAMES: %q created game %s (%s, %d rounds)", host, pin, mode, total)
	return nil
}

// CreateGame allocates a globally unique gamepin and creates a game there.
func CreateGame(st *Store, cfg *Config, host, mode string, rounds int, isPlus bool) (string, error) {
	for {
		pin := randomGamepin()
		err := CreateGameAt(st, cfg, pin, host, mode, rounds, isPlus)
		if err == errPinTaken {
			continue
		}
		if err != nil {
			return "", err
		}
		return pin, nil
	}
}

// JoinGame adds (or re-admits) a player to a lobby-state game. Joining is a
// transaction so two players with colliding sanitized keys or racing join
// taps cannot produce duplicate or torn records. Rejoining under the same
// username reclaims the existing record and clears a "left" status.
func JoinGame(st *Store, cfg *Config, pin, username string) (string, error) {
	key := sanitizePlayerKey(username)
	if key == "" {
		return "", errPlayerNotFound
	}

	var jerr error
	st.Transaction(gamePath(pin), func(cur any) any {
		g, ok := decodeGame(pin, cur)
		if !ok {
			jerr = errGameNotFound
			return cur
		}

		if existing, ok := g.Players[key]; ok {
			existing.Status = ""
			existing.Username = username
			g.LastActivityAt = nowMillis()
			return encodeGame(g)
		}

		if g.IsGameStarted {
			jerr = errGameStarted
			return cur
		}

		maxOrder := -1
		for _, p := range g.Players {
			if p.Order > maxOrder {
				maxOrder = p.Order
			}
		}
		g.Players[key] = &Player{
			Key:      key,
			Username: username,
			Order:    maxOrder + 1,
		}
		g.LastActivityAt = nowMillis()
		return encodeGame(g)
	})
	if jerr != nil {
		return "", jerr
	}

	logf(cfg, "GAMES: %q joined %s", username, pin)
	return key, nil
}

// LeaveGame marks a player as having left. The record stays so turn order
// and accepted traits survive a rejoin.
func LeaveGame(st *Store, cfg *Config, pin, playerKey string) error {
	if st.Read(gamePath(pin)+"/players/"+playerKey) == nil {
		return errPlayerNotFound
	}

	st.Update(gamePath(pin)+"/players/"+playerKey, map[string]any{
		"status": statusLeft,
	})
	touchGame(st, pin)

	logf(cfg, "GAMES: player %q left %s", playerKey, pin)
	return nil
}

// SubmitTraits stores a player's submitted traits as individual push-ID
// nodes under the per-player grouping, and marks the player done. The
// grouping survives only until kickoff flattens it into the shared pool.
func SubmitTraits(st *Store, cfg *Config, pin, playerKey string, texts []string) error {
	if len(texts) != cfg.traitsPerPlayer {
		return errTraitCount
	}
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return errTraitCount
		}
	}

	var serr error
	st.Transaction(gamePath(pin), func(cur any) any {
		g, ok := decodeGame(pin, cur)
		if !ok {
			serr = errGameNotFound
			return cur
		}
		p, ok := g.Players[playerKey]
		if !ok {
			serr = errPlayerNotFound
			return cur
		}
		if g.IsGameStarted {
			serr = errGameStarted
			return cur
		}

		if g.Pending == nil {
			g.Pending = make(map[string][]Trait)
		}
		group := make([]Trait, 0, len(texts))
		for i, text := range texts {
			group = append(group, Trait{
				ID:    uuid.NewString(),
				Text:  text,
				Order: i,
			})
		}
		g.Pending[playerKey] = group
		p.TraitsCompleted = true
		g.LastActivityAt = nowMillis()
		return encodeGame(g)
	})
	if serr != nil {
		return serr
	}

	logf(cfg, "GAMES: player %q submitted %d traits to %s", playerKey, len(texts), pin)
	return nil
}

// StartCountdown publishes the shared pre-start countdown record. Host only.
func StartCountdown(st *Store, cfg *Config, pin, playerKey string) error {
	g, ok := decodeGame(pin, st.Read(gamePath(pin)))
	if !ok {
		return errGameNotFound
	}
	p, ok := g.Players[playerKey]
	if !ok {
		return errPlayerNotFound
	}
	if !p.IsHost {
		return errNotHost
	}
	if g.IsGameStarted {
		return errGameStarted
	}

	st.Update(gamePath(pin), map[string]any{
		"countdown": map[string]any{
			"startAt":    nowMillis(),
			"durationMs": cfg.countdown.Milliseconds(),
		},
		"lastActivityAt": nowMillis(),
	})
	return nil
}

func touchGame(st *Store, pin string) {
	st.Update(gamePath(pin), map[string]any{
		"lastActivityAt": nowMillis(),
	})
}
