// Package registry tracks the sessions that completed the handshake and fans
// chat lines and notifications out to them.
package registry

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Mmx233/lanchat/server/connid"
	"github.com/rs/zerolog"
)

// Member is a registered session as seen by the registry.
type Member interface {
	ID() connid.ID
	Username() string
	// Send writes raw text to the member's transport.
	Send(text string) error
	Active() bool
	MarkInactive()
	// Close releases the member's transport. It must be safe to call more than once.
	Close() error
}

// Registry is the set of live members keyed by connection ID. Mutation takes
// the write lock; iteration and fan-out share the read lock.
type Registry struct {
	mu      sync.RWMutex
	members map[connid.ID]Member
	logger  zerolog.Logger
}

// New creates an empty registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		members: make(map[connid.ID]Member),
		logger:  logger.With().Str("com", "registry").Logger(),
	}
}

// FormatChat formats a chat line as delivered to peers.
func FormatChat(username, text string) string {
	return "[" + username + "]: " + text
}

// FormatNotification formats a system notification.
func FormatNotification(text string) string {
	return "*** " + text + " ***"
}

// Register adds m. Usernames are not unique; registering the same
// connection twice keeps one entry.
func (r *Registry) Register(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members[m.ID()] = m
	r.logger.Debug().
		Stringer("conn_id", m.ID()).
		Str("username", m.Username()).
		Int("count", len(r.members)).
		Msg("member registered")
}

// Unregister removes m by connection ID. It reports whether an entry was
// removed; removing an absent member is a no-op.
func (r *Registry) Unregister(m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.members[m.ID()]
	if !ok || existing != m {
		return false
	}
	delete(r.members, m.ID())
	r.logger.Debug().
		Stringer("conn_id", m.ID()).
		Str("username", m.Username()).
		Int("count", len(r.members)).
		Msg("member unregistered")
	return true
}

// Get looks up a member by connection ID.
func (r *Registry) Get(id connid.ID) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[id]
	return m, ok
}

// Count returns the number of registered members.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Members returns a snapshot of all members.
func (r *Registry) Members() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	return members
}

// Usernames returns the sorted usernames of active members.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.members))
	for _, m := range r.members {
		if m.Active() {
			names = append(names, m.Username())
		}
	}
	sort.Strings(names)
	return names
}

// Broadcast sends text to every active member except exclude, which may be
// nil. A failed send marks that member inactive and the fan-out continues; the
// member's own handler removes it. It returns the number of successful sends.
func (r *Registry) Broadcast(text string, exclude Member) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for id, m := range r.members {
		if exclude != nil && id == exclude.ID() {
			continue
		}
		if !m.Active() {
			continue
		}
		if err := m.Send(text); err != nil {
			m.MarkInactive()
			r.logger.Debug().Err(err).
				Stringer("conn_id", id).
				Str("username", m.Username()).
				Msg("send failed, member marked inactive")
			continue
		}
		delivered++
	}
	return delivered
}

// BroadcastChat delivers "[username]: text" from one member to all others.
func (r *Registry) BroadcastChat(from Member, text string) int {
	return r.Broadcast(FormatChat(from.Username(), text), from)
}

// Notify delivers "*** text ***" to every active member.
func (r *Registry) Notify(text string) int {
	return r.Broadcast(FormatNotification(text), nil)
}

// OnlineSummary returns the notification text listing active members.
func (r *Registry) OnlineSummary() string {
	names := r.Usernames()
	return strconv.Itoa(len(names)) + " online: " + strings.Join(names, ", ")
}

// CloseAll closes every member transport and empties the registry.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.members)
	for id, m := range r.members {
		m.MarkInactive()
		if err := m.Close(); err != nil {
			r.logger.Debug().Err(err).Stringer("conn_id", id).Msg("close member failed")
		}
	}
	clear(r.members)
	if n > 0 {
		r.logger.Info().Int("count", n).Msg("closed all members")
	}
	return n
}
