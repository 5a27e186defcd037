package bridge

// ConnectionRegistry the set of open client sessions
//
// Not thread safe. Only the hub event loop reads or writes it.
type ConnectionRegistry struct {
	sessions map[string]*session
}

// NewConnectionRegistry define a new empty registry
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{sessions: make(map[string]*session)}
}

// Add record an open session
func (r *ConnectionRegistry) Add(sess *session) {
	r.sessions[sess.id] = sess
}

// Remove forget a session. Returns whether it was present.
func (r *ConnectionRegistry) Remove(id string) bool {
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Len number of sessions
func (r *ConnectionRegistry) Len() int {
	return len(r.sessions)
}

// Each call fn on every session except the one with ID exclude
func (r *ConnectionRegistry) Each(exclude string, fn func(sess *session)) {
	for id, sess := range r.sessions {
		if id == exclude {
			continue
		}
		fn(sess)
	}
}
