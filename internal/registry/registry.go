package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bf2statistics/battlespy/internal/events"
)

// Store is the database collaborator the registry persists lifecycle
// transitions through. Implemented by the storage package; a nil Store
// disables persistence without affecting query visibility.
type Store interface {
	ResolveServerID(ctx context.Context, ip string, queryPort uint16) (int64, error)
	MarkOnline(ctx context.Context, id int64, gamePort uint16, name string, lastSeen int64) error
	MarkOffline(ctx context.Context, id int64, lastSeen int64) error
}

// Registry maps (ip, queryPort) to the live GameServer record. The
// heartbeat listener writes; query sessions read snapshots. A single mutex
// guards the map; database calls happen outside the lock.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*GameServer
	synced  map[string]uint64 // attribute digest last persisted per key

	store  Store
	bus    *events.Bus
	logger zerolog.Logger
}

// New creates an empty registry. store and bus may be nil in tests.
func New(store Store, bus *events.Bus) *Registry {
	return &Registry{
		servers: make(map[string]*GameServer),
		synced:  make(map[string]uint64),
		store:   store,
		bus:     bus,
		logger:  log.With().Str("component", "registry").Logger(),
	}
}

// Snapshot returns value copies of all validated records. The copies are
// coherent per record; servers that change after the snapshot is taken are
// reported as they were at snapshot time.
func (r *Registry) Snapshot() []GameServer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]GameServer, 0, len(r.servers))
	for _, s := range r.servers {
		if s.IsValidated {
			out = append(out, *s)
		}
	}
	return out
}

// Get returns a copy of one record.
func (r *Registry) Get(ip string, queryPort uint16) (GameServer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.servers[(&GameServer{IP: ip, QueryPort: queryPort}).Key()]
	if !ok {
		return GameServer{}, false
	}
	return *s, true
}

// Count returns the total and validated record counts.
func (r *Registry) Count() (total, validated int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total = len(r.servers)
	for _, s := range r.servers {
		if s.IsValidated {
			validated++
		}
	}
	return total, validated
}

// Upsert merges a heartbeat report into the registry. Attribute fields are
// overwritten; validation state and database linkage survive. lastRefreshed
// is monotonic non-decreasing.
func (r *Registry) Upsert(rec GameServer) {
	now := time.Now()

	r.mu.Lock()
	key := rec.Key()
	existing, ok := r.servers[key]
	if !ok {
		rec.LastRefreshed = now
		rec.IsValidated = false
		r.servers[key] = &rec
		r.mu.Unlock()
		r.logger.Debug().Str("server", key).Str("hostname", rec.Hostname).Msg("server registered")
		return
	}

	id, resolved := existing.DatabaseID, existing.dbResolved
	validated := existing.IsValidated
	last := existing.LastRefreshed

	rec.DatabaseID = id
	rec.dbResolved = resolved
	rec.IsValidated = validated
	rec.LastRefreshed = last
	if now.After(last) {
		rec.LastRefreshed = now
	}
	*existing = rec
	r.mu.Unlock()
}

// Touch refreshes lastRefreshed on a keepalive without changing attributes.
func (r *Registry) Touch(ip string, queryPort uint16) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[(&GameServer{IP: ip, QueryPort: queryPort}).Key()]
	if ok && now.After(s.LastRefreshed) {
		s.LastRefreshed = now
	}
}

// MarkValidated records a completed heartbeat handshake. The server becomes
// visible to queries and its online state is persisted.
func (r *Registry) MarkValidated(ctx context.Context, ip string, queryPort uint16) {
	r.mu.Lock()
	s, ok := r.servers[(&GameServer{IP: ip, QueryPort: queryPort}).Key()]
	if !ok {
		r.mu.Unlock()
		return
	}
	first := !s.IsValidated
	s.IsValidated = true
	snap := *s
	r.mu.Unlock()

	if first {
		r.logger.Info().
			Str("server", snap.Key()).
			Str("hostname", snap.Hostname).
			Msg("server validated")
		if r.bus != nil {
			r.bus.Emit(ctx, events.Event{
				Type:   events.EventServerOnline,
				Source: "registry",
				Payload: events.ServerPayload{
					IP:        snap.IP,
					QueryPort: snap.QueryPort,
					GamePort:  snap.GamePort,
					Hostname:  snap.Hostname,
				},
			})
		}
	}

	r.MarkOnline(ctx, ip, queryPort)
}

// MarkOnline persists the server's online state. The database id is resolved
// lazily on first call and remembered, including a "not found" outcome;
// servers absent from the database are never inserted here. Database errors
// are logged and swallowed: a query never fails because of a database
// hiccup.
func (r *Registry) MarkOnline(ctx context.Context, ip string, queryPort uint16) {
	if r.store == nil {
		return
	}

	key := (&GameServer{IP: ip, QueryPort: queryPort}).Key()

	r.mu.RLock()
	s, ok := r.servers[key]
	if !ok {
		r.mu.RUnlock()
		return
	}
	snap := *s
	lastSynced, seen := r.synced[key]
	r.mu.RUnlock()

	if !snap.dbResolved {
		id, err := r.store.ResolveServerID(ctx, snap.IP, snap.QueryPort)
		if err != nil {
			r.logger.Warn().Err(err).Str("server", key).Msg("database id lookup failed")
			return
		}
		r.mu.Lock()
		if cur, ok := r.servers[key]; ok {
			cur.DatabaseID = id
			cur.dbResolved = true
		}
		r.mu.Unlock()
		snap.DatabaseID = id
	}

	if snap.DatabaseID == 0 {
		return
	}

	digest := snap.AttrDigest()
	if seen && digest == lastSynced {
		return
	}

	err := r.store.MarkOnline(ctx, snap.DatabaseID, snap.GamePort, snap.Hostname, time.Now().Unix())
	if err != nil {
		r.logger.Warn().Err(err).Str("server", key).Msg("failed to persist online state")
		return
	}

	r.mu.Lock()
	r.synced[key] = digest
	r.mu.Unlock()
}

// MarkOffline persists online=0 for a server that is already linked to a
// database row. Unresolved or unknown servers are left alone.
func (r *Registry) MarkOffline(ctx context.Context, s GameServer) {
	if r.store == nil || !s.dbResolved || s.DatabaseID == 0 {
		return
	}
	if err := r.store.MarkOffline(ctx, s.DatabaseID, time.Now().Unix()); err != nil {
		r.logger.Warn().Err(err).Str("server", s.Key()).Msg("failed to persist offline state")
	}
}

// Remove evicts one record, returning the removed copy.
func (r *Registry) Remove(ctx context.Context, ip string, queryPort uint16) (GameServer, bool) {
	key := (&GameServer{IP: ip, QueryPort: queryPort}).Key()

	r.mu.Lock()
	s, ok := r.servers[key]
	if !ok {
		r.mu.Unlock()
		return GameServer{}, false
	}
	snap := *s
	delete(r.servers, key)
	delete(r.synced, key)
	r.mu.Unlock()

	r.emitOffline(ctx, snap)
	r.MarkOffline(ctx, snap)
	return snap, true
}

// EvictStale removes every record whose lastRefreshed is older than the
// cutoff and persists their offline transitions. Returns the evicted count.
func (r *Registry) EvictStale(ctx context.Context, olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	r.mu.Lock()
	var evicted []GameServer
	for key, s := range r.servers {
		if s.LastRefreshed.Before(cutoff) {
			evicted = append(evicted, *s)
			delete(r.servers, key)
			delete(r.synced, key)
		}
	}
	r.mu.Unlock()

	for i := range evicted {
		s := evicted[i]
		r.logger.Info().
			Str("server", s.Key()).
			Time("last_refreshed", s.LastRefreshed).
			Msg("evicted stale server")
		r.emitOffline(ctx, s)
		r.MarkOffline(ctx, s)
	}
	return len(evicted)
}

func (r *Registry) emitOffline(ctx context.Context, s GameServer) {
	if r.bus == nil || !s.IsValidated {
		return
	}
	r.bus.Emit(ctx, events.Event{
		Type:   events.EventServerOffline,
		Source: "registry",
		Payload: events.ServerPayload{
			IP:        s.IP,
			QueryPort: s.QueryPort,
			GamePort:  s.GamePort,
			Hostname:  s.Hostname,
		},
	})
}
