package realtime

import "sync"

// Registry is the process-local channel <-> connection membership table
// (C5). It is the only process-wide mutable state in the engine; every
// mutation goes through Subscribe/Unsubscribe/RemoveConnection, each of
// which takes the single lock internally. A fan-out reader that observes a
// connection mid-removal either sees it (and the subsequent send failure
// closes it cleanly) or doesn't — both are acceptable per spec.md §4.5.
type Registry struct {
	mu           sync.RWMutex
	byChannel    map[string]map[*Connection]struct{}
	byConnection map[*Connection]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		byChannel:    make(map[string]map[*Connection]struct{}),
		byConnection: make(map[*Connection]map[string]struct{}),
	}
}

// Subscribe adds conn to channel's subscriber set. It reports false (a
// no-op) if conn was already subscribed, so callers can treat re-subscribe
// as idempotent while still emitting a success acknowledgement.
func (r *Registry) Subscribe(conn *Connection, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, already := r.byConnection[conn][channel]; already {
		return false
	}

	if r.byChannel[channel] == nil {
		r.byChannel[channel] = make(map[*Connection]struct{})
	}
	r.byChannel[channel][conn] = struct{}{}

	if r.byConnection[conn] == nil {
		r.byConnection[conn] = make(map[string]struct{})
	}
	r.byConnection[conn][channel] = struct{}{}
	return true
}

// Unsubscribe removes conn from channel's subscriber set. It reports false
// if conn was not subscribed, so unsubscribe-on-unknown-channel stays silent.
func (r *Registry) Unsubscribe(conn *Connection, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unsubscribeLocked(conn, channel)
}

func (r *Registry) unsubscribeLocked(conn *Connection, channel string) bool {
	if _, ok := r.byConnection[conn][channel]; !ok {
		return false
	}
	delete(r.byConnection[conn], channel)
	if len(r.byConnection[conn]) == 0 {
		delete(r.byConnection, conn)
	}
	delete(r.byChannel[channel], conn)
	if len(r.byChannel[channel]) == 0 {
		delete(r.byChannel, channel)
	}
	return true
}

// RemoveConnection removes conn from every channel it held and returns the
// list of channels it was subscribed to, so the caller can run the full
// unsubscribe side-effect chain (presence leave, member_removed) for each.
func (r *Registry) RemoveConnection(conn *Connection) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels := r.byConnection[conn]
	if len(channels) == 0 {
		return nil
	}
	out := make([]string, 0, len(channels))
	for channel := range channels {
		out = append(out, channel)
	}
	for _, channel := range out {
		r.unsubscribeLocked(conn, channel)
	}
	return out
}

// Subscribers returns a snapshot of the connections currently subscribed to
// channel. The snapshot may be stale by the time the caller acts on it;
// that's fine, a send to a since-disconnected connection just fails cleanly.
func (r *Registry) Subscribers(channel string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byChannel[channel]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(set))
	for conn := range set {
		out = append(out, conn)
	}
	return out
}

// SubscriberCount is the local subscriber count for channel, exposed for
// C7's HTTP response. It is never the fleet-wide total.
func (r *Registry) SubscriberCount(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byChannel[channel])
}

// IsSubscribed reports whether conn currently holds channel.
func (r *Registry) IsSubscribed(conn *Connection, channel string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byConnection[conn][channel]
	return ok
}
