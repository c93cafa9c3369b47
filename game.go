package main

import (
	"sort"
	"strconv"
	"strings"
)

// One game is the subtree at "games/{gamepin}". Records are decoded from the
// store's JSON-shaped values at the boundary; malformed fields fall back to
// zero values rather than leaking through the round engine.

const (
	modeStandard = "standard"
	modeCustom   = "custom"

	defaultRounds = 6
	minRounds     = 4
	maxRounds     = 20

	statusLeft = "left"
)

type Trait struct {
	ID    string
	Text  string
	Order int
}

// Key returns the identity used for reuse checks: the trait ID when present,
// otherwise the normalized text.
func (t Trait) Key() string {
	if t.ID != "" {
		return t.ID
	}
	return strings.ToLower(strings.TrimSpace(t.Text))
}

type Player struct {
	Key             string
	Username        string
	IsHost          bool
	Order           int
	TraitsCompleted bool
	AcceptedTraits  []Trait
	SkipCount       int
	KeepCount       int
	Status          string
}

// DateNumber is the 1-based "date" the player is currently on, derived
// directly from how many traits they have kept.
func (p *Player) DateNumber() int {
	return len(p.AcceptedTraits) + 1
}

func (p *Player) Left() bool {
	return p.Status == statusLeft
}

type TransitionEvent struct {
	Phase          string // "decision" or "next"
	Kind           string // "juu" or "ei" for decision events
	NextPlayerName string
	NextDateNumber int
	Drink          bool
	StartedAt      int64
}

// FresherThan reports whether this event should trigger a new animation for
// a viewer that last rendered an event with the given timestamp. Identical
// timestamps are stale: the same snapshot redelivered must not re-trigger.
func (e *TransitionEvent) FresherThan(last int64) bool {
	return e != nil && e.StartedAt > last
}

type RevealState struct {
	TraitID    string
	Player     string
	ShownCount int
	Total      int
	StartedAt  int64
}

// ValidFor reports whether this reveal record belongs to the game's current
// trait. A mismatched trait ID means the round already moved on and the
// record is a stale leftover that readers must ignore.
func (r *RevealState) ValidFor(g *Game) bool {
	if r == nil || g == nil || g.CurrentTrait == nil {
		return false
	}
	return r.TraitID == g.CurrentTrait.Key()
}

func (r *RevealState) Done() bool {
	return r != nil && r.ShownCount >= r.Total
}

type Countdown struct {
	StartAt    int64
	DurationMs int64
}

type Replay struct {
	NewGamepin string
	Host       string
	CreatedAt  int64
}

type Game struct {
	Pin                string
	Host               string
	Mode               string
	RoundsTotal        int
	IsGameStarted      bool
	CurrentRound       int
	CurrentPlayerIndex int
	CurrentTrait       *Trait
	UsedTraits         []string
	Pool               []Trait            // post-shuffle flat deck
	Pending            map[string][]Trait // pre-shuffle per-player submissions
	Players            map[string]*Player
	Animation          *TransitionEvent
	TraitReveal        *RevealState
	Countdown          *Countdown
	Replay             *Replay
	CreatedAt          int64
	LastActivityAt     int64
}

// Ended is the level-triggered terminal predicate: every reader reaches the
// same conclusion from state alone, no matter when it last looked.
func (g *Game) Ended() bool {
	return g.CurrentRound > g.RoundsTotal
}

// TurnOrder returns players sorted by join order, the deterministic ordering
// that currentPlayerIndex indexes into.
func (g *Game) TurnOrder() []*Player {
	order := make([]*Player, 0, len(g.Players))
	for _, p := range g.Players {
		order = append(order, p)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].Order != order[j].Order {
			return order[i].Order < order[j].Order
		}
		return order[i].Key < order[j].Key
	})
	return order
}

func (g *Game) CurrentPlayer() *Player {
	order := g.TurnOrder()
	if len(order) == 0 || g.CurrentPlayerIndex < 0 || g.CurrentPlayerIndex >= len(order) {
		return nil
	}
	return order[g.CurrentPlayerIndex]
}

func (g *Game) UsedSet() map[string]bool {
	used := make(map[string]bool, len(g.UsedTraits))
	for _, id := range g.UsedTraits {
		used[id] = true
	}
	return used
}

// sanitizePlayerKey converts a display username into a key safe for use as
// a tree path segment. Unique within a game by construction upstream.
func sanitizePlayerKey(username string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(username) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ---- decoding ----

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	}
	return 0
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	}
	return 0
}

func decodeTrait(v any) (Trait, bool) {
	m := asMap(v)
	if m == nil {
		return Trait{}, false
	}
	t := Trait{
		ID:    asString(m["traitId"]),
		Text:  asString(m["text"]),
		Order: asInt(m["order"]),
	}
	if t.ID == "" && strings.TrimSpace(t.Text) == "" {
		return Trait{}, false
	}
	return t, true
}

func decodeTraitList(v any) []Trait {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	traits := make([]Trait, 0, len(list))
	for _, e := range list {
		if t, ok := decodeTrait(e); ok {
			traits = append(traits, t)
		}
	}
	if len(traits) == 0 {
		return nil
	}
	return traits
}

func decodePlayer(key string, v any) *Player {
	m := asMap(v)
	if m == nil {
		return nil
	}
	return &Player{
		Key:             key,
		Username:        asString(m["username"]),
		IsHost:          asBool(m["isHost"]),
		Order:           asInt(m["order"]),
		TraitsCompleted: asBool(m["traitsCompleted"]),
		AcceptedTraits:  decodeTraitList(m["acceptedTraits"]),
		SkipCount:       asInt(m["skipCount"]),
		KeepCount:       asInt(m["keepCount"]),
		Status:          asString(m["status"]),
	}
}

func decodeTransition(v any) *TransitionEvent {
	m := asMap(v)
	if m == nil {
		return nil
	}
	e := &TransitionEvent{
		Phase:          asString(m["phase"]),
		Kind:           asString(m["kind"]),
		NextPlayerName: asString(m["nextPlayerName"]),
		NextDateNumber: asInt(m["nextDateNumber"]),
		Drink:          asBool(m["drink"]),
		StartedAt:      asInt64(m["startedAt"]),
	}
	if e.Phase == "" || e.StartedAt == 0 {
		return nil
	}
	return e
}

func decodeReveal(v any) *RevealState {
	m := asMap(v)
	if m == nil {
		return nil
	}
	r := &RevealState{
		TraitID:    asString(m["traitId"]),
		Player:     asString(m["player"]),
		ShownCount: asInt(m["shownCount"]),
		Total:      asInt(m["total"]),
		StartedAt:  asInt64(m["startedAt"]),
	}
	if r.TraitID == "" || r.Total <= 0 {
		return nil
	}
	return r
}

func decodeCountdown(v any) *Countdown {
	m := asMap(v)
	if m == nil {
		return nil
	}
	c := &Countdown{
		StartAt:    asInt64(m["startAt"]),
		DurationMs: asInt64(m["durationMs"]),
	}
	if c.StartAt == 0 {
		return nil
	}
	return c
}

func decodeReplay(v any) *Replay {
	m := asMap(v)
	if m == nil {
		return nil
	}
	r := &Replay{
		NewGamepin: asString(m["newGamepin"]),
		Host:       asString(m["host"]),
		CreatedAt:  asInt64(m["createdAt"]),
	}
	if r.NewGamepin == "" {
		return nil
	}
	return r
}

// decodeTraitsNode reads the two sub-nodes of the traits subtree: the
// post-shuffle flat pool at "pool" (index keys, ordered) and the pre-shuffle
// per-player groupings at "pending" (player keys, so they can hold anything
// a sanitized username can, digits included). Both coexist briefly during
// kickoff, when the flat pool has been committed but the stale per-player
// nodes have not yet been cleaned up.
func decodeTraitsNode(v any) (pool []Trait, pending map[string][]Trait) {
	m := asMap(v)
	if m == nil {
		return nil, nil
	}

	type indexed struct {
		idx   int
		trait Trait
	}
	var flat []indexed

	for key, raw := range asMap(m["pool"]) {
		idx, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		if t, ok := decodeTrait(raw); ok {
			flat = append(flat, indexed{idx: idx, trait: t})
		}
	}

	for key, raw := range asMap(m["pending"]) {
		group := asMap(raw)
		if group == nil {
			continue
		}
		var traits []Trait
		for _, rawTrait := range group {
			if t, ok := decodeTrait(rawTrait); ok {
				traits = append(traits, t)
			}
		}
		sort.Slice(traits, func(i, j int) bool { return traits[i].Order < traits[j].Order })
		if len(traits) > 0 {
			if pending == nil {
				pending = make(map[string][]Trait)
			}
			pending[key] = traits
		}
	}

	if len(flat) == 0 {
		return nil, pending
	}
	sort.Slice(flat, func(i, j int) bool { return flat[i].idx < flat[j].idx })
	pool = make([]Trait, 0, len(flat))
	for _, e := range flat {
		pool = append(pool, e.trait)
	}
	return pool, pending
}

func decodeGame(pin string, v any) (*Game, bool) {
	m := asMap(v)
	if m == nil {
		return nil, false
	}

	g := &Game{
		Pin:                pin,
		Host:               asString(m["host"]),
		Mode:               asString(m["mode"]),
		RoundsTotal:        asInt(m["roundsTotal"]),
		IsGameStarted:      asBool(m["isGameStarted"]),
		CurrentRound:       asInt(m["currentRound"]),
		CurrentPlayerIndex: asInt(m["currentPlayerIndex"]),
		Animation:          decodeTransition(m["animation"]),
		TraitReveal:        decodeReveal(m["traitReveal"]),
		Countdown:          decodeCountdown(m["countdown"]),
		Replay:             decodeReplay(m["replay"]),
		CreatedAt:          asInt64(m["createdAt"]),
		LastActivityAt:     asInt64(m["lastActivityAt"]),
		Players:            make(map[string]*Player),
	}

	if g.Mode == "" {
		g.Mode = modeStandard
	}
	if g.RoundsTotal <= 0 {
		g.RoundsTotal = defaultRounds
	}

	if t, ok := decodeTrait(m["currentTrait"]); ok {
		g.CurrentTrait = &t
	}

	if used, ok := m["usedTraits"].([]any); ok {
		for _, e := range used {
			if id := asString(e); id != "" {
				g.UsedTraits = append(g.UsedTraits, id)
			}
		}
	}

	g.Pool, g.Pending = decodeTraitsNode(m["traits"])

	for key, raw := range asMap(m["players"]) {
		if p := decodePlayer(key, raw); p != nil {
			g.Players[key] = p
		}
	}

	return g, true
}

// ---- encoding ----

func encodeTrait(t Trait) map[string]any {
	return map[string]any{
		"traitId": t.ID,
		"text":    t.Text,
		"order":   t.Order,
	}
}

func encodeTraitList(traits []Trait) []any {
	out := make([]any, 0, len(traits))
	for _, t := range traits {
		out = append(out, encodeTrait(t))
	}
	return out
}

func encodePlayer(p *Player) map[string]any {
	m := map[string]any{
		"username":        p.Username,
		"isHost":          p.IsHost,
		"order":           p.Order,
		"traitsCompleted": p.TraitsCompleted,
		"skipCount":       p.SkipCount,
		"keepCount":       p.KeepCount,
		"acceptedTraits":  encodeTraitList(p.AcceptedTraits),
	}
	if p.Status != "" {
		m["status"] = p.Status
	}
	return m
}

func encodeTransition(e *TransitionEvent) map[string]any {
	m := map[string]any{
		"phase":     e.Phase,
		"startedAt": e.StartedAt,
	}
	if e.Kind != "" {
		m["kind"] = e.Kind
	}
	if e.NextPlayerName != "" {
		m["nextPlayerName"] = e.NextPlayerName
		m["nextDateNumber"] = e.NextDateNumber
		m["drink"] = e.Drink
	}
	return m
}

func encodeReveal(r *RevealState) map[string]any {
	return map[string]any{
		"traitId":    r.TraitID,
		"player":     r.Player,
		"shownCount": r.ShownCount,
		"total":      r.Total,
		"startedAt":  r.StartedAt,
	}
}

func encodeUsedTraits(ids []string) []any {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, id)
	}
	return out
}

func encodeCountdown(c *Countdown) map[string]any {
	return map[string]any{
		"startAt":    c.StartAt,
		"durationMs": c.DurationMs,
	}
}

func encodeReplay(r *Replay) map[string]any {
	return map[string]any{
		"newGamepin": r.NewGamepin,
		"host":       r.Host,
		"createdAt":  r.CreatedAt,
	}
}

// encodeGame renders the whole game back into tree form. Used by
// transactions that decode, mutate, and re-commit a full game record.
func encodeGame(g *Game) map[string]any {
	m := map[string]any{
		"host":               g.Host,
		"mode":               g.Mode,
		"roundsTotal":        g.RoundsTotal,
		"isGameStarted":      g.IsGameStarted,
		"currentRound":       g.CurrentRound,
		"currentPlayerIndex": g.CurrentPlayerIndex,
		"createdAt":          g.CreatedAt,
		"lastActivityAt":     g.LastActivityAt,
	}

	if g.CurrentTrait != nil {
		m["currentTrait"] = encodeTrait(*g.CurrentTrait)
	}
	if len(g.UsedTraits) > 0 {
		m["usedTraits"] = encodeUsedTraits(g.UsedTraits)
	}

	if len(g.Pool) > 0 || len(g.Pending) > 0 {
		traits := make(map[string]any)
		if len(g.Pool) > 0 {
			pool := make(map[string]any, len(g.Pool))
			for i, t := range g.Pool {
				pool[strconv.Itoa(i)] = encodeTrait(t)
			}
			traits["pool"] = pool
		}
		if len(g.Pending) > 0 {
			pendingNode := make(map[string]any, len(g.Pending))
			for key, group := range g.Pending {
				node := make(map[string]any, len(group))
				for _, t := range group {
					node[t.ID] = encodeTrait(t)
				}
				pendingNode[key] = node
			}
			traits["pending"] = pendingNode
		}
		m["traits"] = traits
	}

	if len(g.Players) > 0 {
		players := make(map[string]any, len(g.Players))
		for key, p := range g.Players {
			players[key] = encodePlayer(p)
		}
		m["players"] = players
	}

	if g.Animation != nil {
		m["animation"] = encodeTransition(g.Animation)
	}
	if g.TraitReveal != nil {
		m["traitReveal"] = encodeReveal(g.TraitReveal)
	}
	if g.Countdown != nil {
		m["countdown"] = encodeCountdown(g.Countdown)
	}
	if g.Replay != nil {
		m["replay"] = encodeReplay(g.Replay)
	}

	return m
}
