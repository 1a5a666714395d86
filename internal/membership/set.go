package membership

import (
	"net/netip"
	"sort"
	"sync"
	"time"
)

// Member is a registered client endpoint
type Member struct {
	Addr         netip.AddrPort `json:"address"`
	RegisteredAt time.Time      `json:"registered_at"`
}

// Set is the relay's concurrent-safe set of registered client addresses.
// Members are only ever added; there is no removal path.
type Set struct {
	members map[netip.AddrPort]time.Time
	mu      sync.RWMutex
}

// New creates an empty membership set
func New() *Set {
	return &Set{
		members: make(map[netip.AddrPort]time.Time),
	}
}

// Normalize unmaps IPv4-mapped IPv6 addresses so one endpoint always yields one key
func Normalize(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}

// Add registers addr and reports whether it was not already a member.
// Re-adding an existing member keeps its original registration time.
func (s *Set) Add(addr netip.AddrPort) bool {
	addr = Normalize(addr)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.members[addr]; exists {
		return false
	}
	s.members[addr] = time.Now()
	return true
}

// Contains reports whether addr is a member
func (s *Set) Contains(addr netip.AddrPort) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.members[Normalize(addr)]
	return exists
}

// Len returns the number of members
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

// Targets returns every member except exclude, in registration order.
// The returned slice is a copy and safe to iterate while members are added.
func (s *Set) Targets(exclude netip.AddrPort) []netip.AddrPort {
	exclude = Normalize(exclude)
	snapshot := s.Snapshot()

	targets := make([]netip.AddrPort, 0, len(snapshot))
	for _, m := range snapshot {
		if m.Addr != exclude {
			targets = append(targets, m.Addr)
		}
	}
	return targets
}

// Snapshot returns all members ordered by registration time (for monitoring)
func (s *Set) Snapshot() []Member {
	s.mu.RLock()
	members := make([]Member, 0, len(s.members))
	for addr, registeredAt := range s.members {
		members = append(members, Member{Addr: addr, RegisteredAt: registeredAt})
	}
	s.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool {
		if members[i].RegisteredAt.Equal(members[j].RegisteredAt) {
			return members[i].Addr.String() < members[j].Addr.String()
		}
		return members[i].RegisteredAt.Before(members[j].RegisteredAt)
	})
	return members
}
