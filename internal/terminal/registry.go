package terminal

import (
	"sync"
	"time"
)

// Entry is one live terminal bridge: the viewer connection and the CLI-side
// connection relaying bytes for one interactive terminal. Entries live only
// in memory; a hub restart drops every bridge.
type Entry struct {
	TerminalID  string
	SessionID   string
	SocketID    string
	CliSocketID string
}

type entry struct {
	Entry
	timer    *time.Timer
	timerGen uint64
}

// Registry indexes terminal bridges by terminal id with reverse indices by
// viewer socket, CLI socket and session for bulk cleanup on disconnect.
// Every entry carries a single-shot idle timer; any register, rebind or
// activity re-arms it. A non-positive idleTimeout disables eviction and
// leaves lifecycle fully manual.
type Registry struct {
	idleTimeout time.Duration
	onEvict     func(Entry)

	mu          sync.Mutex
	entries     map[string]*entry
	bySocket    map[string]map[string]struct{}
	byCliSocket map[string]map[string]struct{}
	bySession   map[string]map[string]struct{}
	stopped     bool
}

func NewRegistry(idleTimeout time.Duration, onEvict func(Entry)) *Registry {
	return &Registry{
		idleTimeout: idleTimeout,
		onEvict:     onEvict,
		entries:     make(map[string]*entry),
		bySocket:    make(map[string]map[string]struct{}),
		byCliSocket: make(map[string]map[string]struct{}),
		bySession:   make(map[string]map[string]struct{}),
	}
}

// Register creates the bridge for terminalID. Terminal ids are assigned
// once; registering an id that is already live reports failure instead of
// silently stealing the bridge.
func (r *Registry) Register(terminalID, sessionID, socketID, cliSocketID string) (Entry, bool) {
	if terminalID == "" {
		return Entry{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return Entry{}, false
	}
	if _, exists := r.entries[terminalID]; exists {
		return Entry{}, false
	}

	en := &entry{Entry: Entry{
		TerminalID:  terminalID,
		SessionID:   sessionID,
		SocketID:    socketID,
		CliSocketID: cliSocketID,
	}}
	r.entries[terminalID] = en
	addIndex(r.bySocket, socketID, terminalID)
	addIndex(r.byCliSocket, cliSocketID, terminalID)
	addIndex(r.bySession, sessionID, terminalID)
	r.armLocked(en)
	return en.Entry, true
}

// Rebind points an existing bridge at new connection ids after a viewer or
// daemon reconnect. Empty arguments keep the current binding. Indices move
// remove-then-add and the idle timer restarts.
func (r *Registry) Rebind(terminalID, socketID, cliSocketID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	en, ok := r.entries[terminalID]
	if !ok {
		return Entry{}, false
	}

	if socketID != "" && socketID != en.SocketID {
		removeIndex(r.bySocket, en.SocketID, terminalID)
		en.SocketID = socketID
		addIndex(r.bySocket, socketID, terminalID)
	}
	if cliSocketID != "" && cliSocketID != en.CliSocketID {
		removeIndex(r.byCliSocket, en.CliSocketID, terminalID)
		en.CliSocketID = cliSocketID
		addIndex(r.byCliSocket, cliSocketID, terminalID)
	}
	r.armLocked(en)
	return en.Entry, true
}

// MarkActivity defers idle eviction without touching the bindings.
func (r *Registry) MarkActivity(terminalID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	en, ok := r.entries[terminalID]
	if !ok {
		return false
	}
	r.armLocked(en)
	return true
}

// Get returns a snapshot of the bridge for terminalID.
func (r *Registry) Get(terminalID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	en, ok := r.entries[terminalID]
	if !ok {
		return Entry{}, false
	}
	return en.Entry, true
}

// DetachBySocket clears the viewer binding of every bridge attached to
// socketID without removing the bridges, leaving a grace window for the
// viewer to reconnect and rebind before the idle timer finalizes cleanup.
// The returned snapshots carry the cleared binding.
func (r *Registry) DetachBySocket(socketID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	affected := make([]Entry, 0)
	for terminalID := range r.bySocket[socketID] {
		en := r.entries[terminalID]
		en.SocketID = ""
		affected = append(affected, en.Entry)
	}
	delete(r.bySocket, socketID)
	return affected
}

// Remove fully deregisters one bridge, clearing all indices and canceling
// its timer.
func (r *Registry) Remove(terminalID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	en, ok := r.entries[terminalID]
	if !ok {
		return Entry{}, false
	}
	r.removeLocked(en)
	return en.Entry, true
}

// RemoveBySocket deregisters every bridge whose viewer is socketID and
// returns them so the caller can notify the CLI side.
func (r *Registry) RemoveBySocket(socketID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := make([]Entry, 0)
	for terminalID := range r.bySocket[socketID] {
		en := r.entries[terminalID]
		r.removeLocked(en)
		removed = append(removed, en.Entry)
	}
	return removed
}

// RemoveByCliSocket deregisters every bridge whose CLI side is socketID and
// returns them so the caller can notify the viewers.
func (r *Registry) RemoveByCliSocket(socketID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := make([]Entry, 0)
	for terminalID := range r.byCliSocket[socketID] {
		en := r.entries[terminalID]
		r.removeLocked(en)
		removed = append(removed, en.Entry)
	}
	return removed
}

func (r *Registry) CountForSocket(socketID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySocket[socketID])
}

func (r *Registry) CountForSession(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySession[sessionID])
}

// Stop cancels every idle timer and rejects further registrations.
// Idempotent.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	for _, en := range r.entries {
		if en.timer != nil {
			en.timer.Stop()
			en.timer = nil
		}
	}
}

// armLocked restarts the entry's single-shot idle timer. The generation
// counter makes a fire-after-rearm or fire-after-remove race a no-op: the
// fired closure only acts if its generation is still current.
func (r *Registry) armLocked(en *entry) {
	if r.idleTimeout <= 0 {
		return
	}
	if en.timer != nil {
		en.timer.Stop()
	}
	en.timerGen++
	gen := en.timerGen
	terminalID := en.TerminalID
	en.timer = time.AfterFunc(r.idleTimeout, func() {
		r.evict(terminalID, gen)
	})
}

func (r *Registry) evict(terminalID string, gen uint64) {
	r.mu.Lock()
	en, ok := r.entries[terminalID]
	if !ok || en.timerGen != gen {
		r.mu.Unlock()
		return
	}
	r.removeLocked(en)
	snapshot := en.Entry
	onEvict := r.onEvict
	r.mu.Unlock()

	if onEvict != nil {
		onEvict(snapshot)
	}
}

func (r *Registry) removeLocked(en *entry) {
	if en.timer != nil {
		en.timer.Stop()
		en.timer = nil
	}
	en.timerGen++
	delete(r.entries, en.TerminalID)
	removeIndex(r.bySocket, en.SocketID, en.TerminalID)
	removeIndex(r.byCliSocket, en.CliSocketID, en.TerminalID)
	removeIndex(r.bySession, en.SessionID, en.TerminalID)
}

func addIndex(index map[string]map[string]struct{}, key, terminalID string) {
	if key == "" {
		return
	}
	set := index[key]
	if set == nil {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[terminalID] = struct{}{}
}

func removeIndex(index map[string]map[string]struct{}, key, terminalID string) {
	if key == "" {
		return
	}
	if set := index[key]; set != nil {
		delete(set, terminalID)
		if len(set) == 0 {
			delete(index, key)
		}
	}
}
