// Package registry tracks the clients connected to the query socket.
package registry

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client is one open connection.
type Client struct {
	ID          string `json:"id"`
	Network     string `json:"network"`
	Remote      string `json:"remote"`
	ConnectedAt int64  `json:"connected_at"`
	LastSeenAt  int64  `json:"last_seen_at"`
	Requests    int64  `json:"requests"`
	Table       string `json:"table,omitempty"` // table of the request in flight
}

// Store holds the open connections.
type Store struct {
	mu      sync.RWMutex
	clients map[string]*Client
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		clients: make(map[string]*Client),
		now:     time.Now,
	}
}

// Register adds a connection and returns its id.
func (s *Store) Register(network, remote string) string {
	now := s.now().Unix()
	c := &Client{
		ID:          uuid.NewString(),
		Network:     network,
		Remote:      stripPort(network, remote),
		ConnectedAt: now,
		LastSeenAt:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = c
	return c.ID
}

// Begin records the start of a request on table.
func (s *Store) Begin(id, table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[id]; ok {
		c.Requests++
		c.LastSeenAt = s.now().Unix()
		c.Table = table
	}
}

// End clears the request in flight.
func (s *Store) End(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[id]; ok {
		c.Table = ""
		c.LastSeenAt = s.now().Unix()
	}
}

func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, id)
}

// Get returns a copy of the client.
func (s *Store) Get(id string) (Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	if !ok {
		return Client{}, false
	}
	return *c, true
}

// List returns copies of all clients, oldest connection first.
func (s *Store) List() []Client {
	s.mu.RLock()
	list := make([]Client, 0, len(s.clients))
	for _, c := range s.clients {
		list = append(list, *c)
	}
	s.mu.RUnlock()

	slices.SortFunc(list, func(a, b Client) int {
		if a.ConnectedAt != b.ConnectedAt {
			return int(a.ConnectedAt - b.ConnectedAt)
		}
		return strings.Compare(a.ID, b.ID)
	})
	return list
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func stripPort(network, remote string) string {
	if network != "tcp" {
		return remote
	}
	if idx := strings.LastIndex(remote, ":"); idx != -1 {
		return remote[:idx]
	}
	return remote
}
