package hub

import "sync"

type Writer interface {
	Write(message []byte) error
	Close() error
}

// Connection is one transport connection subscribed to one or more topics.
type Connection struct {
	ID     string
	Writer Writer

	mu     sync.Mutex
	topics map[string]struct{}
}

func NewConnection(id string, w Writer) *Connection {
	return &Connection{ID: id, Writer: w, topics: make(map[string]struct{})}
}

// Hub is the fan-out collaborator: Publish pushes a payload to every
// connection subscribed to a topic. Topics are opaque strings; callers scope
// them by namespace, session or machine id.
type Hub struct {
	mu      sync.RWMutex
	byTopic map[string]map[*Connection]struct{}
}

func New() *Hub {
	return &Hub{byTopic: make(map[string]map[*Connection]struct{})}
}

func (h *Hub) Subscribe(conn *Connection, topic string) {
	if topic == "" {
		return
	}

	h.mu.Lock()
	set := h.byTopic[topic]
	if set == nil {
		set = make(map[*Connection]struct{})
		h.byTopic[topic] = set
	}
	set[conn] = struct{}{}
	h.mu.Unlock()

	conn.mu.Lock()
	conn.topics[topic] = struct{}{}
	conn.mu.Unlock()
}

func (h *Hub) Unsubscribe(conn *Connection, topic string) {
	h.mu.Lock()
	if set := h.byTopic[topic]; set != nil {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.byTopic, topic)
		}
	}
	h.mu.Unlock()

	conn.mu.Lock()
	delete(conn.topics, topic)
	conn.mu.Unlock()
}

// Drop removes the connection from every topic it joined.
func (h *Hub) Drop(conn *Connection) {
	conn.mu.Lock()
	topics := make([]string, 0, len(conn.topics))
	for t := range conn.topics {
		topics = append(topics, t)
	}
	conn.topics = make(map[string]struct{})
	conn.mu.Unlock()

	h.mu.Lock()
	for _, t := range topics {
		if set := h.byTopic[t]; set != nil {
			delete(set, conn)
			if len(set) == 0 {
				delete(h.byTopic, t)
			}
		}
	}
	h.mu.Unlock()
}

// Publish writes message to every subscriber of topic. Connections whose
// write fails are closed and dropped.
func (h *Hub) Publish(topic string, message []byte) {
	h.mu.RLock()
	set := h.byTopic[topic]
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		_ = c.Writer.Close()
		h.Drop(c)
	}
}
