package main

import (
	"fmt"
	"sync"
)

// Bot simulation harness. Bots play complete games through the same store
// operations real clients use, including the reveal sub-protocol and the
// shared overlay events, so full-game behavior can be exercised without a
// websocket in sight.

type SimBot struct {
	Username string
	Key      string

	// Choose picks keep or skip for the served trait. Trait is nil once
	// the pool is exhausted.
	Choose func(round int, trait *Trait) string

	tracker  revealTracker
	lastSeen int64
	Rendered int // how many fresh overlay events this bot rendered
}

type Simulation struct {
	st  *Store
	cfg *Config
	Pin string

	Bots      []*SimBot
	Decisions int
}

func NewSimulation(st *Store, cfg *Config, usernames []string) *Simulation {
	s := &Simulation{st: st, cfg: cfg}
	for _, name := range usernames {
		s.Bots = append(s.Bots, &SimBot{
			Username: name,
			Choose: func(round int, trait *Trait) string {
				if randIntn(2) == 0 {
					return choiceKeep
				}
				return choiceSkip
			},
		})
	}
	return s
}

// Setup creates the game as the first bot and joins the rest, each
// submitting a full set of traits.
func (s *Simulation) Setup(mode string, rounds int) error {
	if len(s.Bots) == 0 {
		return errNotEnoughPlayers
	}

	host := s.Bots[0]
	pin, err := CreateGame(s.st, s.cfg, host.Username, mode, rounds, mode == modeCustom)
	if err != nil {
		return err
	}
	s.Pin = pin
	host.Key = sanitizePlayerKey(host.Username)

	for _, bot := range s.Bots[1:] {
		key, err := JoinGame(s.st, s.cfg, pin, bot.Username)
		if err != nil {
			return err
		}
		bot.Key = key
	}

	for _, bot := range s.Bots {
		traits := make([]string, s.cfg.traitsPerPlayer)
		for i := range traits {
			traits[i] = fmt.Sprintf("%s trait %d", bot.Username, i+1)
		}
		if err := SubmitTraits(s.st, s.cfg, pin, bot.Key, traits); err != nil {
			return err
		}
	}

	return nil
}

func (s *Simulation) Start() error {
	return StartGame(s.st, s.cfg, s.Pin, s.Bots[0].Key)
}

func (s *Simulation) game() (*Game, bool) {
	return decodeGame(s.Pin, s.st.Read(gamePath(s.Pin)))
}

// Game returns the current decoded state.
func (s *Simulation) Game() (*Game, bool) {
	return s.game()
}

func (s *Simulation) botFor(key string) *SimBot {
	for _, bot := range s.Bots {
		if bot.Key == key {
			return bot
		}
	}
	return nil
}

// Step performs one full turn for the active bot: the reveal sub-protocol
// if their kept traits warrant one, then a keep/skip decision with its
// overlay sequence. Returns false once the game has ended.
func (s *Simulation) Step() (bool, error) {
	g, ok := s.game()
	if !ok {
		return false, errGameNotFound
	}
	if g.Ended() {
		return false, nil
	}

	current := g.CurrentPlayer()
	if current == nil {
		return false, errPlayerNotFound
	}
	bot := s.botFor(current.Key)
	if bot == nil {
		return false, errPlayerNotFound
	}

	bot.tracker.observe(s.st, s.cfg, s.Pin, g)

	for {
		g, ok = s.game()
		if !ok {
			return false, errGameNotFound
		}
		if !g.TraitReveal.ValidFor(g) {
			break
		}
		if g.TraitReveal.Done() {
			clearReveal(s.st, s.Pin, g.TraitReveal.StartedAt)
			continue
		}
		if _, _, err := AdvanceReveal(s.st, s.cfg, s.Pin, bot.Key); err != nil {
			return false, err
		}
	}

	choice := bot.Choose(g.CurrentRound, g.CurrentTrait)
	res, err := Decide(s.st, s.cfg, s.Pin, bot.Key, choice)
	if err != nil {
		return false, err
	}
	s.Decisions++

	// Run the overlay sequence synchronously and let every bot apply the
	// freshness rule a real viewer would.
	publishDecision(s.st, s.Pin, res.Kind)
	s.renderOverlays()
	startedAt := publishNextTurn(s.st, s.Pin, res.NextPlayerName, res.NextDateNumber, res.Drink)
	s.renderOverlays()
	s.renderOverlays() // redelivery of the same snapshot must not re-render
	clearTransition(s.st, s.cfg, s.Pin, startedAt)

	return !res.Ended, nil
}

func (s *Simulation) renderOverlays() {
	e := decodeTransition(s.st.Read(gamePath(s.Pin) + "/animation"))
	for _, bot := range s.Bots {
		if e.FresherThan(bot.lastSeen) {
			bot.lastSeen = e.StartedAt
			bot.Rendered++
		}
	}
}

// Run steps until the game ends, erroring out if it fails to terminate
// within maxSteps decisions.
func (s *Simulation) Run(maxSteps int) (*Game, error) {
	for i := 0; i < maxSteps; i++ {
		more, err := s.Step()
		if err != nil {
			return nil, err
		}
		if !more {
			g, _ := s.game()
			return g, nil
		}
	}
	return nil, fmt.Errorf("game did not terminate within %d decisions", maxSteps)
}

// PressReplayAll has every bot press "Play again" at once and reports what
// each observed.
func (s *Simulation) PressReplayAll(isPlus bool) ([]*Replay, []bool, error) {
	results := make([]*Replay, len(s.Bots))
	wins := make([]bool, len(s.Bots))
	errs := make([]error, len(s.Bots))

	var wg sync.WaitGroup
	for i, bot := range s.Bots {
		wg.Add(1)
		go func(i int, bot *SimBot) {
			defer wg.Done()
			results[i], wins[i], errs[i] = RequestReplay(s.st, s.cfg, s.Pin, bot.Username, isPlus)
		}(i, bot)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, nil, err
		}
	}
	return results, wins, nil
}
