package node

import (
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Errors
var (
	ErrNoNode      = errors.New("no audio node available")
	ErrUnknownNode = errors.New("unknown audio node")
)

// Status is a point-in-time view of one node for listings.
type Status struct {
	ID         string
	Healthy    bool
	Available  bool
	Restarting bool
	Search     bool
	Players    int
}

// Selector tracks the process-wide node pool and its player load.
type Selector struct {
	mu          sync.RWMutex
	order       []string
	nodes       map[string]Client
	assigned    map[string]int
	unavailable map[string]bool
	restarting  map[string]bool
}

// NewSelector creates a selector over the given nodes, in priority order.
func NewSelector(clients ...Client) *Selector {
	s := &Selector{
		nodes:       make(map[string]Client),
		assigned:    make(map[string]int),
		unavailable: make(map[string]bool),
		restarting:  make(map[string]bool),
	}
	for _, c := range clients {
		s.Add(c)
	}
	return s
}

// Add registers a node. Re-adding an ID replaces the client.
func (s *Selector) Add(c Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[c.ID()]; !ok {
		s.order = append(s.order, c.ID())
	}
	s.nodes[c.ID()] = c
}

// Get returns the node with the given ID.
func (s *Selector) Get(id string) (Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.nodes[id]
	return c, ok
}

// Select returns the least-loaded usable node, skipping the excluded IDs.
func (s *Selector) Select(exclude ...string) (Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	var best Client
	bestLoad := -1
	for _, id := range s.order {
		if skip[id] || !s.usableLocked(id) {
			continue
		}
		if load := s.assigned[id]; bestLoad < 0 || load < bestLoad {
			best, bestLoad = s.nodes[id], load
		}
	}
	if best == nil {
		return nil, ErrNoNode
	}
	return best, nil
}

// SelectSearch returns a node for lookups, preferring a search node other than playbackID.
func (s *Selector) SelectSearch(playbackID string) (Client, error) {
	s.mu.RLock()
	for _, id := range s.order {
		if id != playbackID && s.nodes[id].Search() && s.usableLocked(id) {
			c := s.nodes[id]
			s.mu.RUnlock()
			return c, nil
		}
	}
	if c, ok := s.nodes[playbackID]; ok && s.usableLocked(playbackID) {
		s.mu.RUnlock()
		return c, nil
	}
	s.mu.RUnlock()
	return s.Select()
}

// Assign records one more player on the node.
func (s *Selector) Assign(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assigned[id]++
}

// Release records one player less on the node.
func (s *Selector) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assigned[id] > 0 {
		s.assigned[id]--
	}
}

// Load returns the number of players assigned to the node.
func (s *Selector) Load(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assigned[id]
}

// MarkUnavailable removes the node from selection until MarkAvailable.
func (s *Selector) MarkUnavailable(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	zlog.Warn().Msgf("node: marked unavailable: node=%s", id)
	s.unavailable[id] = true
}

// MarkAvailable returns the node to selection.
func (s *Selector) MarkAvailable(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.unavailable, id)
}

// SetRestarting flags the node as reconnecting.
func (s *Selector) SetRestarting(id string, restarting bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if restarting {
		s.restarting[id] = true
	} else {
		delete(s.restarting, id)
	}
}

// Restarting reports whether the node is reconnecting.
func (s *Selector) Restarting(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restarting[id]
}

// Nodes returns the status of every node in priority order.
func (s *Selector) Nodes() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Status, 0, len(s.order))
	for _, id := range s.order {
		c := s.nodes[id]
		out = append(out, Status{
			ID:         id,
			Healthy:    c.Healthy(),
			Available:  !s.unavailable[id],
			Restarting: s.restarting[id],
			Search:     c.Search(),
			Players:    s.assigned[id],
		})
	}
	return out
}

func (s *Selector) usableLocked(id string) bool {
	c, ok := s.nodes[id]
	return ok && c.Healthy() && !s.unavailable[id] && !s.restarting[id]
}
