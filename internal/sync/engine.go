package syncengine

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"agent-hub/internal/model"
	"agent-hub/internal/store"
)

// Update statuses shared by the optimistic write operations.
const (
	StatusSuccess         = "success"
	StatusVersionMismatch = "version-mismatch"
	StatusNotFound        = "not-found"
	StatusActiveConflict  = "active-conflict"
)

// Publisher is the fan-out collaborator. The engine only needs publish;
// subscription management lives with the transport.
type Publisher interface {
	Publish(topic string, payload []byte)
}

// Engine is the single authoritative in-process view of sessions and
// machines. It caches rows above the Store, collapses concurrent creation
// races, owns version and seq arithmetic, and publishes change events.
//
// The cache is refreshed on every engine-mediated write. Writes performed
// directly against the Store bypass it; collaborators doing that must call
// RefreshSession/RefreshMachine to reconcile. That staleness window is
// deliberate and kept narrow by routing all hub writes through the engine.
type Engine struct {
	store *store.Store
	pub   Publisher
	now   func() int64

	updateSeq int64
	stopped   atomic.Bool

	// writeMu serializes every optimistic read-check-write so two goroutines
	// holding the same expected version cannot both report success. mu alone
	// cannot give that: it is released between the version check and the
	// store round trip.
	writeMu sync.Mutex

	mu             sync.RWMutex
	sessionsByID   map[string]model.Session
	sessionIDByTag map[string]string // namespace + "|" + tag -> sessionID
	machinesByKey  map[string]model.Machine // namespace + "|" + machineID
}

func New(st *store.Store, pub Publisher) *Engine {
	return NewWithClock(st, pub, func() int64 { return time.Now().UnixMilli() })
}

func NewWithClock(st *store.Store, pub Publisher, now func() int64) *Engine {
	return &Engine{
		store:          st,
		pub:            pub,
		now:            now,
		sessionsByID:   make(map[string]model.Session),
		sessionIDByTag: make(map[string]string),
		machinesByKey:  make(map[string]model.Machine),
	}
}

// Stop detaches the engine from its publisher. Idempotent.
func (e *Engine) Stop() {
	e.stopped.Store(true)
}

func tagKey(namespace, tag string) string {
	return namespace + "|" + tag
}

func machineKey(namespace, id string) string {
	return namespace + "|" + id
}

// Topic names the fan-out subscribes and publishes under.
func NamespaceTopic(namespace string) string { return "ns:" + namespace }
func SessionTopic(sessionID string) string   { return "session:" + sessionID }
func MachineTopic(namespace, machineID string) string {
	return "machine:" + machineKey(namespace, machineID)
}

func (e *Engine) publish(body map[string]any, topics ...string) {
	if e.pub == nil || e.stopped.Load() {
		return
	}
	seq := atomic.AddInt64(&e.updateSeq, 1)
	payload, err := json.Marshal(map[string]any{
		"id":        uuid.NewString(),
		"seq":       seq,
		"createdAt": e.now(),
		"body":      body,
	})
	if err != nil {
		return
	}
	for _, t := range topics {
		e.pub.Publish(t, payload)
	}
}

// GetOrCreateSession returns the session for (namespace, tag), creating it
// on first use. Safe under concurrent calls for the same key: the store's
// unique index decides the winner and losers return the winner's row.
func (e *Engine) GetOrCreateSession(tag, metadata string, agentState *string, namespace string) (model.Session, bool, error) {
	e.mu.RLock()
	if sid, ok := e.sessionIDByTag[tagKey(namespace, tag)]; ok {
		sess := e.sessionsByID[sid]
		if sess.Namespace == namespace {
			e.mu.RUnlock()
			return sess, false, nil
		}
	}
	e.mu.RUnlock()

	if sess, ok, err := e.store.GetSessionByTag(namespace, tag); err != nil {
		return model.Session{}, false, err
	} else if ok {
		e.cacheSession(sess)
		return sess, false, nil
	}

	sess, err := e.store.CreateSession(namespace, tag, metadata, agentState, e.now())
	if errors.Is(err, store.ErrDuplicateTag) {
		// Lost the creation race; the winner's row is the session.
		winner, ok, err := e.store.GetSessionByTag(namespace, tag)
		if err != nil {
			return model.Session{}, false, err
		}
		if !ok {
			return model.Session{}, false, store.ErrSessionNotFound
		}
		e.cacheSession(winner)
		return winner, false, nil
	}
	if err != nil {
		return model.Session{}, false, err
	}

	created := e.cacheSessionIfAbsent(sess)
	if created {
		e.publish(map[string]any{
			"t":       "new-session",
			"sid":     sess.ID,
			"session": sessionBody(sess),
		}, NamespaceTopic(namespace))
	}
	return sess, created, nil
}

// cacheSessionIfAbsent re-checks the cache after the store round trip so a
// concurrent writer that populated the entry first wins.
func (e *Engine) cacheSessionIfAbsent(sess model.Session) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := tagKey(sess.Namespace, sess.Tag)
	if existing, ok := e.sessionIDByTag[key]; ok && existing != sess.ID {
		return false
	}
	e.sessionsByID[sess.ID] = sess
	e.sessionIDByTag[key] = sess.ID
	return true
}

func (e *Engine) cacheSession(sess model.Session) {
	e.mu.Lock()
	e.sessionsByID[sess.ID] = sess
	e.sessionIDByTag[tagKey(sess.Namespace, sess.Tag)] = sess.ID
	e.mu.Unlock()
}

func (e *Engine) evictSession(sess model.Session) {
	e.mu.Lock()
	delete(e.sessionsByID, sess.ID)
	key := tagKey(sess.Namespace, sess.Tag)
	if e.sessionIDByTag[key] == sess.ID {
		delete(e.sessionIDByTag, key)
	}
	e.mu.Unlock()
}

// GetSession re-applies the ownership filter on cache hits: presence in the
// cache is never treated as authorization.
func (e *Engine) GetSession(id, namespace string) (model.Session, bool, error) {
	e.mu.RLock()
	sess, ok := e.sessionsByID[id]
	e.mu.RUnlock()
	if ok {
		if sess.Namespace != namespace {
			return model.Session{}, false, nil
		}
		return sess, true, nil
	}

	sess, ok, err := e.store.GetSession(id, namespace)
	if err != nil || !ok {
		return model.Session{}, false, err
	}
	e.cacheSession(sess)
	return sess, true, nil
}

func (e *Engine) GetSessions(namespace string) ([]model.Session, error) {
	sessions, err := e.store.GetSessions(namespace)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	for _, sess := range sessions {
		e.sessionsByID[sess.ID] = sess
		e.sessionIDByTag[tagKey(sess.Namespace, sess.Tag)] = sess.ID
	}
	e.mu.Unlock()
	return sessions, nil
}

// RefreshSession force-reconciles one cache entry after an out-of-band
// store write. A row that no longer exists is evicted.
func (e *Engine) RefreshSession(id, namespace string) (model.Session, bool, error) {
	sess, ok, err := e.store.GetSession(id, namespace)
	if err != nil {
		return model.Session{}, false, err
	}
	if !ok {
		e.mu.Lock()
		if cached, present := e.sessionsByID[id]; present && cached.Namespace == namespace {
			delete(e.sessionsByID, id)
			key := tagKey(cached.Namespace, cached.Tag)
			if e.sessionIDByTag[key] == id {
				delete(e.sessionIDByTag, key)
			}
		}
		e.mu.Unlock()
		return model.Session{}, false, nil
	}
	e.cacheSession(sess)
	return sess, true, nil
}

// loadSession returns the namespace-checked session from cache or store.
func (e *Engine) loadSession(id, namespace string) (model.Session, bool, error) {
	return e.GetSession(id, namespace)
}

// UpdateSessionMetadata applies an optimistic metadata write. A stale
// expectedVersion leaves the stored value untouched and reports
// version-mismatch with the current version and value so the caller can
// re-read and retry.
func (e *Engine) UpdateSessionMetadata(id, namespace string, expectedVersion int, metadata string) (string, int, string, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	sess, ok, err := e.loadSession(id, namespace)
	if err != nil {
		return StatusNotFound, 0, "", err
	}
	if !ok {
		return StatusNotFound, 0, "", nil
	}
	if expectedVersion != sess.MetadataVersion {
		return StatusVersionMismatch, sess.MetadataVersion, sess.Metadata, nil
	}

	sess.Metadata = metadata
	sess.MetadataVersion++
	sess.UpdatedAt = e.now()
	if err := e.persistSession(namespace, sess); err != nil {
		return StatusNotFound, 0, "", err
	}

	e.publish(map[string]any{
		"t":   "update-session",
		"sid": sess.ID,
		"metadata": map[string]any{
			"version": sess.MetadataVersion,
			"value":   sess.Metadata,
		},
	}, SessionTopic(sess.ID), NamespaceTopic(namespace))
	return StatusSuccess, sess.MetadataVersion, sess.Metadata, nil
}

func (e *Engine) UpdateSessionAgentState(id, namespace string, expectedVersion int, agentState *string) (string, int, *string, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	sess, ok, err := e.loadSession(id, namespace)
	if err != nil {
		return StatusNotFound, 0, nil, err
	}
	if !ok {
		return StatusNotFound, 0, nil, nil
	}
	if expectedVersion != sess.AgentStateVersion {
		return StatusVersionMismatch, sess.AgentStateVersion, sess.AgentState, nil
	}

	sess.AgentState = agentState
	sess.AgentStateVersion++
	sess.UpdatedAt = e.now()
	if err := e.persistSession(namespace, sess); err != nil {
		return StatusNotFound, 0, nil, err
	}

	e.publish(map[string]any{
		"t":   "update-session",
		"sid": sess.ID,
		"agentState": map[string]any{
			"version": sess.AgentStateVersion,
			"value":   sess.AgentState,
		},
	}, SessionTopic(sess.ID), NamespaceTopic(namespace))
	return StatusSuccess, sess.AgentStateVersion, sess.AgentState, nil
}

// UpdateSessionTodos replaces the todos blob. Todos carry a timestamp, not a
// version counter; last writer wins.
func (e *Engine) UpdateSessionTodos(id, namespace string, todos *string) (bool, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	sess, ok, err := e.loadSession(id, namespace)
	if err != nil || !ok {
		return false, err
	}

	now := e.now()
	sess.Todos = todos
	sess.TodosUpdatedAt = now
	sess.UpdatedAt = now
	if err := e.persistSession(namespace, sess); err != nil {
		return false, err
	}

	e.publish(map[string]any{
		"t":     "update-todos",
		"sid":   sess.ID,
		"todos": sess.Todos,
	}, SessionTopic(sess.ID), NamespaceTopic(namespace))
	return true, nil
}

func (e *Engine) SetSessionActive(id, namespace string, active bool, activeAt int64) (bool, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	sess, ok, err := e.loadSession(id, namespace)
	if err != nil || !ok {
		return false, err
	}

	sess.Active = active
	if active {
		sess.ActiveAt = activeAt
	}
	sess.UpdatedAt = e.now()
	if err := e.persistSession(namespace, sess); err != nil {
		return false, err
	}

	e.publish(map[string]any{
		"t":      "session-activity",
		"sid":    sess.ID,
		"active": sess.Active,
	}, SessionTopic(sess.ID), NamespaceTopic(namespace))
	return true, nil
}

func (e *Engine) persistSession(namespace string, sess model.Session) error {
	ok, err := e.store.UpdateSession(namespace, sess)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrSessionNotFound
	}
	e.cacheSession(sess)
	return nil
}

// DeleteSession refuses to delete an active session: an active row
// represents a live daemon connection and deleting it would orphan that
// connection. A second delete of the same inactive session reports
// not-found, which makes retries safe.
func (e *Engine) DeleteSession(id, namespace string) (string, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	sess, ok, err := e.loadSession(id, namespace)
	if err != nil {
		return StatusNotFound, err
	}
	if !ok {
		return StatusNotFound, nil
	}
	if sess.Active {
		return StatusActiveConflict, nil
	}

	deleted, err := e.store.DeleteSession(id, namespace)
	if err != nil {
		return StatusNotFound, err
	}
	if !deleted {
		return StatusNotFound, nil
	}
	e.evictSession(sess)

	e.publish(map[string]any{
		"t":   "delete-session",
		"sid": sess.ID,
	}, SessionTopic(sess.ID), NamespaceTopic(namespace))
	return StatusSuccess, nil
}

// SendMessage appends content to the session's message log with the next
// seq, bumps the session row, and announces the message. The store's
// not-found/access-denied fault propagates unchanged.
func (e *Engine) SendMessage(sessionID, namespace, content string) (model.Message, error) {
	msg, err := e.store.CreateMessage(sessionID, content, namespace, e.now())
	if err != nil {
		return model.Message{}, err
	}

	// The store bumped the row's seq; reconcile the cache from it.
	if sess, ok, err := e.store.GetSession(sessionID, namespace); err == nil && ok {
		e.cacheSession(sess)
	}

	e.publish(map[string]any{
		"t":   "new-message",
		"sid": sessionID,
		"message": map[string]any{
			"id":        msg.ID,
			"seq":       msg.Seq,
			"content":   msg.Content,
			"createdAt": msg.CreatedAt,
		},
	}, SessionTopic(sessionID), NamespaceTopic(namespace))
	return msg, nil
}

// FetchResult is the tagged outcome of a catch-up read. Reconnecting
// clients poll this opportunistically, so failures are reported as a reason
// instead of a fault.
type FetchResult struct {
	OK       bool
	Reason   string
	Messages []model.Message
}

// FetchMessages returns messages with seq > afterSeq in ascending order,
// capped at limit (default and max 200).
func (e *Engine) FetchMessages(sessionID, namespace string, afterSeq int64, limit int) FetchResult {
	if afterSeq < 0 {
		return FetchResult{Reason: "invalid-after-seq"}
	}
	msgs, ok, err := e.store.GetMessages(sessionID, namespace, afterSeq, limit)
	if err != nil {
		if errors.Is(err, store.ErrInvalidNamespace) {
			return FetchResult{Reason: "invalid-namespace"}
		}
		return FetchResult{Reason: "storage-failure"}
	}
	if !ok {
		return FetchResult{Reason: StatusNotFound}
	}
	return FetchResult{OK: true, Messages: msgs}
}

func sessionBody(sess model.Session) map[string]any {
	return map[string]any{
		"id":                sess.ID,
		"tag":               sess.Tag,
		"namespace":         sess.Namespace,
		"seq":               sess.Seq,
		"metadata":          sess.Metadata,
		"metadataVersion":   sess.MetadataVersion,
		"agentState":        sess.AgentState,
		"agentStateVersion": sess.AgentStateVersion,
		"active":            sess.Active,
		"activeAt":          sess.ActiveAt,
		"createdAt":         sess.CreatedAt,
		"updatedAt":         sess.UpdatedAt,
	}
}
