package hub

import "sync"

// registry is the set of open connections.
type registry struct {
	mu    sync.RWMutex
	conns map[string]*conn
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*conn)}
}

func (r *registry) add(c *conn) {
	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *registry) snapshot() []*conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// broadcast queues msg on every connection without blocking. A connection whose send buffer
// is full misses the message.
func (r *registry) broadcast(msg []byte) (queued, dropped int) {
	for _, c := range r.snapshot() {
		if c.enqueue(msg) {
			queued++
		} else {
			dropped++
		}
	}
	return queued, dropped
}
