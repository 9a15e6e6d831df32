package rpc

import "sync"

// Registry is a pure routing table from logical RPC method name to the one
// live connection that declared it can service the method. No queueing or
// retries: an unregistered method is simply not connected right now.
type Registry struct {
	mu         sync.RWMutex
	byMethod   map[string]string
	bySocketID map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		byMethod:   make(map[string]string),
		bySocketID: make(map[string]map[string]struct{}),
	}
}

// Register binds method to socketID. Re-registration moves ownership to the
// latest connection, which is what a reconnecting daemon expects.
func (r *Registry) Register(method, socketID string) {
	if method == "" || socketID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byMethod[method]; ok && prev != socketID {
		r.dropLocked(prev, method)
	}
	r.byMethod[method] = socketID
	set := r.bySocketID[socketID]
	if set == nil {
		set = make(map[string]struct{})
		r.bySocketID[socketID] = set
	}
	set[method] = struct{}{}
}

// Unregister removes the binding only when socketID still owns it, so a
// stale disconnect cannot unbind a fresher connection.
func (r *Registry) Unregister(method, socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byMethod[method]; ok && owner == socketID {
		delete(r.byMethod, method)
		r.dropLocked(socketID, method)
	}
}

// UnregisterSocket clears every method bound to socketID and returns the
// methods that became unreachable.
func (r *Registry) UnregisterSocket(socketID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.bySocketID[socketID]
	methods := make([]string, 0, len(set))
	for method := range set {
		if r.byMethod[method] == socketID {
			delete(r.byMethod, method)
		}
		methods = append(methods, method)
	}
	delete(r.bySocketID, socketID)
	return methods
}

// SocketIDForMethod routes a command to its serving connection. ok is false
// when no live connection is registered ("not connected", retryable).
func (r *Registry) SocketIDForMethod(method string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byMethod[method]
	return id, ok
}

func (r *Registry) dropLocked(socketID, method string) {
	if set := r.bySocketID[socketID]; set != nil {
		delete(set, method)
		if len(set) == 0 {
			delete(r.bySocketID, socketID)
		}
	}
}
