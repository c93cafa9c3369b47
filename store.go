// Shared game-state tree.
//
// Every game is one subtree under "games/{gamepin}", and every client-visible
// transition in the round engine is expressed as an operation against this
// store: point reads/writes, field merges, atomic transactions, subtree
// deletes, and push-based change subscriptions. Values are JSON-shaped
// (map[string]any, []any, scalars) and always deep-copied across the store
// boundary, so callers never alias internal state.
//
// Writing nil to a path deletes it, matching the realtime-database convention
// the rest of the engine relies on for compare-and-clear of transient events.

package main

import (
	"strings"
	"sync"
)

type Store struct {
	mu     sync.Mutex
	root   map[string]any
	subs   map[int]*subscription
	nextID int
}

type subscription struct {
	path []string
	fn   func(any)

	mu      sync.Mutex
	pending any
	dirty   bool
	wake    chan struct{}
	done    chan struct{}
}

func NewStore() *Store {
	return &Store{
		root: make(map[string]any),
		subs: make(map[int]*subscription),
	}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Read returns a deep copy of the value at path, or nil if absent.
func (s *Store) Read(path string) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := treeGet(s.root, splitPath(path))
	if !ok {
		return nil
	}
	return deepCopy(v)
}

// Write overwrites the value at path. A nil value deletes the subtree.
func (s *Store) Write(path string, value any) {
	parts := splitPath(path)

	s.mu.Lock()
	if value == nil {
		treeDelete(s.root, parts)
	} else {
		treeSet(s.root, parts, deepCopy(value))
	}
	s.notifyLocked(parts)
	s.mu.Unlock()
}

// Update merges the named fields into the map at path without disturbing
// sibling fields. Nil field values delete the corresponding children.
func (s *Store) Update(path string, fields map[string]any) {
	parts := splitPath(path)

	s.mu.Lock()
	for name, value := range fields {
		childParts := append(append([]string{}, parts...), splitPath(name)...)
		if value == nil {
			treeDelete(s.root, childParts)
		} else {
			treeSet(s.root, childParts, deepCopy(value))
		}
	}
	s.notifyLocked(parts)
	s.mu.Unlock()
}

// Delete removes the subtree at path. Deleting an absent path is a no-op.
func (s *Store) Delete(path string) {
	parts := splitPath(path)

	s.mu.Lock()
	treeDelete(s.root, parts)
	s.notifyLocked(parts)
	s.mu.Unlock()
}

// Transaction atomically replaces the value at path with fn(current).
// fn receives a deep copy of the current value (nil if absent) and its
// return value is committed under the store lock, so no concurrent write
// to the same path can interleave. The committed value is returned as a
// deep copy. Returning the current value unchanged is the idiom for
// "abort": the path keeps its contents and observers simply see a
// refresh.
func (s *Store) Transaction(path string, fn func(current any) any) any {
	parts := splitPath(path)

	s.mu.Lock()
	cur, ok := treeGet(s.root, parts)
	var arg any
	if ok {
		arg = deepCopy(cur)
	}
	next := fn(arg)
	if next == nil {
		treeDelete(s.root, parts)
	} else {
		treeSet(s.root, parts, deepCopy(next))
	}
	s.notifyLocked(parts)
	s.mu.Unlock()

	return deepCopy(next)
}

// Subscribe registers fn to receive the full current value at path on every
// change at, below, or above it. The current value is delivered immediately.
// Deliveries are coalesced: a slow subscriber skips intermediate values but
// always ends on the latest. The returned cancel func stops further
// delivery and is safe to call more than once.
func (s *Store) Subscribe(path string, fn func(any)) (cancel func()) {
	sub := &subscription{
		path: splitPath(path),
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	v, ok := treeGet(s.root, sub.path)
	if ok {
		sub.offer(deepCopy(v))
	} else {
		sub.offer(nil)
	}
	s.mu.Unlock()

	go sub.pump()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(sub.done)
		})
	}
}

func (s *Store) notifyLocked(changed []string) {
	for _, sub := range s.subs {
		if !pathsRelated(sub.path, changed) {
			continue
		}
		v, ok := treeGet(s.root, sub.path)
		if ok {
			sub.offer(deepCopy(v))
		} else {
			sub.offer(nil)
		}
	}
}

func (sub *subscription) offer(v any) {
	sub.mu.Lock()
	sub.pending = v
	sub.dirty = true
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscription) pump() {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.wake:
		}

		for {
			sub.mu.Lock()
			if !sub.dirty {
				sub.mu.Unlock()
				break
			}
			v := sub.pending
			sub.pending = nil
			sub.dirty = false
			sub.mu.Unlock()

			select {
			case <-sub.done:
				return
			default:
			}

			sub.fn(v)
		}
	}
}

// pathsRelated reports whether one path is a prefix of the other (or they
// are equal), i.e. whether a change at one affects the value at the other.
func pathsRelated(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func treeGet(root map[string]any, parts []string) (any, bool) {
	var cur any = root
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func treeSet(root map[string]any, parts []string, value any) {
	if len(parts) == 0 {
		// Overwriting the root: replace contents in place.
		for k := range root {
			delete(root, k)
		}
		if m, ok := value.(map[string]any); ok {
			for k, v := range m {
				root[k] = v
			}
		}
		return
	}

	cur := root
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func treeDelete(root map[string]any, parts []string) {
	if len(parts) == 0 {
		for k := range root {
			delete(root, k)
		}
		return
	}

	cur := root
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}
