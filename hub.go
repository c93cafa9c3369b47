// Treffipeli game surface
//
// Each gamepin gets its own hub. A hub owns one store subscription for its
// game subtree and pushes every change to all connected clients as a full
// snapshot, so phones render purely from shared state and reconnecting
// clients catch up from the first frame. Client actions arrive as JSON
// messages and are applied through the round engine; the hub also runs the
// shared timers the acting client would run in a peer-to-peer rendition
// (overlay clears, reveal closes, end-of-game teardown).

package main

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type     string   `json:"type"`               // "create", "join", "leave", "submit_traits", "start_game", "decide", "advance_reveal", "replay"
	Username string   `json:"username,omitempty"` // create / join / replay
	Mode     string   `json:"mode,omitempty"`     // create
	Rounds   int      `json:"rounds,omitempty"`   // create (custom mode)
	IsPlus   bool     `json:"is_plus,omitempty"`  // create / replay
	Traits   []string `json:"traits,omitempty"`   // submit_traits
	Choice   string   `json:"choice,omitempty"`   // decide ("keep" or "skip")
}

// SnapshotMessage carries the full game subtree after every change.
type SnapshotMessage struct {
	Type    string `json:"type"` // "game_state"
	Gamepin string `json:"gamepin"`
	Game    any    `json:"game"`
}

// JoinedMessage confirms a join/create and tells the client its player key.
type JoinedMessage struct {
	Type      string `json:"type"` // "joined"
	Gamepin   string `json:"gamepin"`
	PlayerKey string `json:"player_key"`
	IsHost    bool   `json:"is_host"`
}

// ReplayMessage tells a presser where the next game lives.
type ReplayMessage struct {
	Type    string `json:"type"` // "replay"
	Gamepin string `json:"gamepin"`
	Host    string `json:"host"`
	Won     bool   `json:"won"`
}

// ErrorMessage is sent only to the client whose action failed.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Op      string `json:"op"`
	Message string `json:"message"`
}

// GoneMessage announces that the game subtree was deleted.
type GoneMessage struct {
	Type string `json:"type"` // "game_gone"
}

type Client struct {
	conn      *websocket.Conn
	send      chan any
	clientID  string
	playerKey string
}

type actionRequest struct {
	client *Client
	msg    ClientMessage
}

type GameHub struct {
	pin string
	st  *Store
	cfg *Config
	gm  *GameManager

	clients   map[*Client]bool
	register  chan *Client
	unreg     chan *Client
	actions   chan actionRequest
	snapshots chan any
	done      chan struct{}
	closeOnce sync.Once

	timers        *timerSet
	tracker       revealTracker
	teardownArmed bool
	cancelSub     func()
}

func newGameHub(gm *GameManager, pin string) *GameHub {
	h := &GameHub{
		pin:       pin,
		st:        gm.st,
		cfg:       gm.cfg,
		gm:        gm,
		clients:   make(map[*Client]bool),
		register:  make(chan *Client),
		unreg:     make(chan *Client),
		actions:   make(chan actionRequest),
		snapshots: make(chan any, 1),
		done:      make(chan struct{}),
		timers:    newTimerSet(),
	}

	h.cancelSub = gm.st.Subscribe(gamePath(pin), func(v any) {
		select {
		case h.snapshots <- v:
		case <-h.done:
		}
	})

	return h
}

func (h *GameHub) run() {
	for {
		select {
		case <-h.done:
			return

		case c := <-h.register:
			h.clients[c] = true
			h.sendTo(c, SnapshotMessage{
				Type:    "game_state",
				Gamepin: h.pin,
				Game:    h.st.Read(gamePath(h.pin)),
			})

		case c := <-h.unreg:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			if len(h.clients) == 0 {
				h.gm.release(h)
				return
			}

		case ar := <-h.actions:
			h.handleAction(ar.client, ar.msg)

		case v := <-h.snapshots:
			h.handleSnapshot(v)
		}
	}
}

func (h *GameHub) handleSnapshot(v any) {
	if v == nil {
		// Game deleted by teardown or the reaper.
		for c := range h.clients {
			h.sendTo(c, GoneMessage{Type: "game_gone"})
		}
		h.broadcastSnapshot(nil)
		return
	}

	g, ok := decodeGame(h.pin, v)
	if ok && g.IsGameStarted {
		h.tracker.observe(h.st, h.cfg, h.pin, g)

		// Level-triggered termination: every snapshot of an ended game
		// reaches the same conclusion, whenever the viewer connected.
		if g.Ended() && !h.teardownArmed {
			h.teardownArmed = true
			scheduleTeardown(h.st, h.cfg, h.pin, h.timers)
		}
	}

	h.broadcastSnapshot(v)
}

func (h *GameHub) broadcastSnapshot(v any) {
	msg := SnapshotMessage{
		Type:    "game_state",
		Gamepin: h.pin,
		Game:    v,
	}
	for c := range h.clients {
		h.sendTo(c, msg)
	}
}

func (h *GameHub) sendTo(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *GameHub) fail(c *Client, op string, err error) {
	logf(h.cfg, "GAMES: %s failed in %s: %v", op, h.pin, err)
	h.sendTo(c, ErrorMessage{
		Type:    "error",
		Op:      op,
		Message: err.Error(),
	})
}

func (h *GameHub) handleAction(c *Client, msg ClientMessage) {
	switch msg.Type {
	case "create":
		err := CreateGameAt(h.st, h.cfg, h.pin, msg.Username, msg.Mode, msg.Rounds, msg.IsPlus)
		if err != nil {
			h.fail(c, msg.Type, err)
			return
		}
		c.playerKey = sanitizePlayerKey(msg.Username)
		h.sendTo(c, JoinedMessage{
			Type:      "joined",
			Gamepin:   h.pin,
			PlayerKey: c.playerKey,
			IsHost:    true,
		})

	case "join":
		key, err := JoinGame(h.st, h.cfg, h.pin, msg.Username)
		if err != nil {
			h.fail(c, msg.Type, err)
			return
		}
		c.playerKey = key
		g, _ := decodeGame(h.pin, h.st.Read(gamePath(h.pin)))
		isHost := g != nil && g.Players[key] != nil && g.Players[key].IsHost
		h.sendTo(c, JoinedMessage{
			Type:      "joined",
			Gamepin:   h.pin,
			PlayerKey: key,
			IsHost:    isHost,
		})

	case "leave":
		if c.playerKey == "" {
			return
		}
		if err := LeaveGame(h.st, h.cfg, h.pin, c.playerKey); err != nil {
			h.fail(c, msg.Type, err)
		}

	case "submit_traits":
		if c.playerKey == "" {
			h.fail(c, msg.Type, errPlayerNotFound)
			return
		}
		if err := SubmitTraits(h.st, h.cfg, h.pin, c.playerKey, msg.Traits); err != nil {
			h.fail(c, msg.Type, err)
		}

	case "start_game":
		if c.playerKey == "" {
			h.fail(c, msg.Type, errPlayerNotFound)
			return
		}
		if h.cfg.countdown <= 0 {
			if err := StartGame(h.st, h.cfg, h.pin, c.playerKey); err != nil {
				h.fail(c, msg.Type, err)
			}
			return
		}
		if err := StartCountdown(h.st, h.cfg, h.pin, c.playerKey); err != nil {
			h.fail(c, msg.Type, err)
			return
		}
		playerKey := c.playerKey
		h.timers.after(h.cfg.countdown, func() {
			if err := StartGame(h.st, h.cfg, h.pin, playerKey); err != nil {
				// Controls stay live in the lobby, so the host can
				// simply tap start again.
				logf(h.cfg, "GAMES: kickoff of %s failed: %v", h.pin, err)
			}
		})

	case "decide":
		if c.playerKey == "" {
			h.fail(c, msg.Type, errPlayerNotFound)
			return
		}
		if g, ok := decodeGame(h.pin, h.st.Read(gamePath(h.pin))); ok && h.tracker.decisionLocked(g, c.playerKey) {
			h.fail(c, msg.Type, errDecisionLocked)
			return
		}
		res, err := Decide(h.st, h.cfg, h.pin, c.playerKey, msg.Choice)
		if err != nil {
			h.fail(c, msg.Type, err)
			return
		}
		announceDecision(h.st, h.cfg, h.pin, res, h.timers)

	case "advance_reveal":
		if c.playerKey == "" {
			h.fail(c, msg.Type, errPlayerNotFound)
			return
		}
		done, startedAt, err := AdvanceReveal(h.st, h.cfg, h.pin, c.playerKey)
		if err != nil {
			h.fail(c, msg.Type, err)
			return
		}
		if done {
			h.timers.after(h.cfg.revealClose, func() {
				clearReveal(h.st, h.pin, startedAt)
			})
		}

	case "replay":
		username := msg.Username
		if username == "" && c.playerKey != "" {
			if g, ok := decodeGame(h.pin, h.st.Read(gamePath(h.pin))); ok {
				if p := g.Players[c.playerKey]; p != nil {
					username = p.Username
				}
			}
		}
		if username == "" {
			h.fail(c, msg.Type, errPlayerNotFound)
			return
		}
		r, won, err := RequestReplay(h.st, h.cfg, h.pin, username, msg.IsPlus)
		if err != nil {
			h.fail(c, msg.Type, err)
			return
		}
		h.sendTo(c, ReplayMessage{
			Type:    "replay",
			Gamepin: r.NewGamepin,
			Host:    r.Host,
			Won:     won,
		})

	default:
		// ignore unknown types
	}
}

func (h *GameHub) shutdown() {
	h.closeOnce.Do(func() {
		h.cancelSub()
		h.timers.stopAll()
		close(h.done)
		for c := range h.clients {
			close(c.send)
			_ = c.conn.Close()
			delete(h.clients, c)
		}
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const clientCookieName = "treffipeli_id"

func getOrSetClientID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(clientCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     clientCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// GameManager holds the hubs, one per gamepin, over the shared store.
type GameManager struct {
	mu   sync.Mutex
	hubs map[string]*GameHub
	st   *Store
	cfg  *Config
}

func newGameManager(st *Store, cfg *Config) *GameManager {
	return &GameManager{
		hubs: make(map[string]*GameHub),
		st:   st,
		cfg:  cfg,
	}
}

func (gm *GameManager) getHub(pin string) *GameHub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[pin]; ok {
		return hub
	}

	hub := newGameHub(gm, pin)
	gm.hubs[pin] = hub
	go hub.run()
	return hub
}

func (gm *GameManager) release(h *GameHub) {
	gm.mu.Lock()
	if gm.hubs[h.pin] == h {
		delete(gm.hubs, h.pin)
	}
	gm.mu.Unlock()
	h.shutdown()
}

// newGamepinCandidate picks a random pin with no live game subtree. The
// final claim happens in the create transaction; this only keeps redirects
// from landing players on someone else's lobby.
func (gm *GameManager) newGamepinCandidate() string {
	for {
		pin := randomGamepin()
		if gm.st.Read(gamePath(pin)) == nil {
			return pin
		}
	}
}

func serveGameWS(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		pin := strings.ToUpper(ps.ByName("gamepin"))
		if pin == "" {
			http.Error(w, "missing gamepin", http.StatusBadRequest)
			return
		}

		clientID := getOrSetClientID(w, r)
		if clientID == "" {
			http.Error(w, "unable to assign client id", http.StatusInternalServerError)
			return
		}

		hub := gm.getHub(pin)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			clientID: clientID,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *GameHub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		select {
		case h.actions <- actionRequest{client: c, msg: msg}:
		case <-h.done:
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the game URL so other phones can
// join by scanning.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	pin := ps.ByName("gamepin")
	if pin == "" {
		http.Error(w, "missing gamepin", http.StatusBadRequest)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// redirectNewGame handles GET /treffipeli by picking a free gamepin and
// redirecting to its lobby URL.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		pin := gm.newGamepinCandidate()
		logf(cfg, "GAMES: redirecting to new lobby %s/%s", path, pin)
		http.Redirect(w, r, path+"/"+pin, http.StatusTemporaryRedirect)
	}
}

// registerTreffipeli sets up routes so that:
//   - $path                   → redirects to a fresh lobby pin
//   - $path/:gamepin/ws       → WebSocket for that game
//   - $path/:gamepin/qr       → PNG QR code for that game URL
func registerTreffipeli(cfg *Config, path string, mux *httprouter.Router, st *Store) *GameManager {
	gm := newGameManager(st, cfg)

	mux.GET(cfg.prefix+path, redirectNewGame(cfg, cfg.prefix+path, gm))

	mux.GET(cfg.prefix+path+"/:gamepin/ws", serveGameWS(cfg, gm))

	mux.GET(cfg.prefix+path+"/:gamepin/qr", qrHandler)

	return gm
}
