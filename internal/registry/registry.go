// Package registry tracks live signaling connections and groups them by
// room. Rooms have no identity of their own: one appears when the first
// client registers under its name and vanishes when the last one leaves.
package registry

import (
	"sync"

	"github.com/virtualclinic/roomcast/internal/domain"
)

type Registry struct {
	mu      sync.RWMutex
	clients map[string]*domain.Client
	rooms   map[string]map[string]*domain.Client
}

func New() *Registry {
	return &Registry{
		clients: make(map[string]*domain.Client),
		rooms:   make(map[string]map[string]*domain.Client),
	}
}

// Register inserts the client under its ID and files it into the room index.
// Re-registering the same ID overwrites the previous entry.
func (r *Registry) Register(c *domain.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.clients[c.ID]; ok {
		r.removeFromRoom(prev)
	}

	r.clients[c.ID] = c

	members, ok := r.rooms[c.Room]
	if !ok {
		members = make(map[string]*domain.Client)
		r.rooms[c.Room] = members
	}
	members[c.ID] = c
}

// Unregister removes the entry for id and returns it. A missing id is a
// no-op returning nil, which covers clients that disconnect before joining.
func (r *Registry) Unregister(id string) *domain.Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if !ok {
		return nil
	}

	delete(r.clients, id)
	r.removeFromRoom(c)
	return c
}

func (r *Registry) Get(id string) *domain.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[id]
}

// MembersOf returns the clients currently in room, optionally excluding one
// id. Pass an empty excluding to get everyone.
func (r *Registry) MembersOf(room string, excluding string) []*domain.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	result := make([]*domain.Client, 0, len(members))
	for id, c := range members {
		if id == excluding {
			continue
		}
		result = append(result, c)
	}
	return result
}

// Roster is MembersOf projected to the wire shape.
func (r *Registry) Roster(room string, excluding string) []domain.RosterEntry {
	members := r.MembersOf(room, excluding)
	roster := make([]domain.RosterEntry, 0, len(members))
	for _, c := range members {
		roster = append(roster, domain.RosterEntry{ID: c.ID, Username: c.Username})
	}
	return roster
}

// RoomCount reports how many rooms currently have at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) removeFromRoom(c *domain.Client) {
	members, ok := r.rooms[c.Room]
	if !ok {
		return
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(r.rooms, c.Room)
	}
}
