package realtime

import (
	"slices"
	"sync"

	"github.com/dkeye/Realm/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry remembers which realms and channels the client wants to be
// joined to. It is plain set semantics: joining twice is one entry and a
// single leave removes it for everyone.
type Registry struct {
	mu       sync.RWMutex
	channels map[domain.ChannelID]struct{}
	realms   map[domain.RealmID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[domain.ChannelID]struct{}),
		realms:   make(map[domain.RealmID]struct{}),
	}
}

// AddChannel reports whether id was not already present.
func (r *Registry) AddChannel(id domain.ChannelID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[id]; ok {
		return false
	}
	r.channels[id] = struct{}{}
	log.Debug().Str("module", "app.registry").Str("channel", string(id)).Msg("channel added")
	return true
}

func (r *Registry) RemoveChannel(id domain.ChannelID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[id]; !ok {
		return false
	}
	delete(r.channels, id)
	log.Debug().Str("module", "app.registry").Str("channel", string(id)).Msg("channel removed")
	return true
}

func (r *Registry) AddRealm(id domain.RealmID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.realms[id]; ok {
		return false
	}
	r.realms[id] = struct{}{}
	log.Debug().Str("module", "app.registry").Str("realm", string(id)).Msg("realm added")
	return true
}

func (r *Registry) RemoveRealm(id domain.RealmID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.realms[id]; !ok {
		return false
	}
	delete(r.realms, id)
	log.Debug().Str("module", "app.registry").Str("realm", string(id)).Msg("realm removed")
	return true
}

// Channels returns a sorted snapshot.
func (r *Registry) Channels() []domain.ChannelID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ChannelID, 0, len(r.channels))
	for id := range r.channels {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Realms returns a sorted snapshot.
func (r *Registry) Realms() []domain.RealmID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RealmID, 0, len(r.realms))
	for id := range r.realms {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
