package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Mmx233/lanchat/server/connid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeMember struct {
	id       connid.ID
	username string
	fail     bool

	mu       sync.Mutex
	received []string
	inactive atomic.Bool
	closed   atomic.Int32
}

func newFake(name string) *fakeMember {
	return &fakeMember{id: connid.Generate(), username: name}
}

func (f *fakeMember) ID() connid.ID    { return f.id }
func (f *fakeMember) Username() string { return f.username }
func (f *fakeMember) Active() bool     { return !f.inactive.Load() }
func (f *fakeMember) MarkInactive()    { f.inactive.Store(true) }
func (f *fakeMember) Close() error {
	f.closed.Add(1)
	return nil
}

func (f *fakeMember) Send(text string) error {
	if f.fail {
		return errors.New("broken pipe")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, text)
	return nil
}

func (f *fakeMember) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func newTestRegistry() *Registry {
	return New(zerolog.Nop())
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	r := newTestRegistry()
	alice := newFake("alice")

	r.Register(alice)
	r.Register(alice)
	assert.Equal(t, 1, r.Count(), "same connection registered twice")

	got, ok := r.Get(alice.ID())
	require.True(t, ok)
	assert.Same(t, alice, got)

	assert.True(t, r.Unregister(alice))
	assert.False(t, r.Unregister(alice), "second unregister must be a no-op")
	assert.Zero(t, r.Count())
}

func TestRegistry_DuplicateUsernamesAreDistinct(t *testing.T) {
	r := newTestRegistry()
	a1, a2 := newFake("alice"), newFake("alice")
	r.Register(a1)
	r.Register(a2)
	assert.Equal(t, 2, r.Count())

	r.Unregister(a1)
	_, ok := r.Get(a2.ID())
	assert.True(t, ok, "removing one alice must not remove the other")
}

func TestRegistry_UnregisterDifferentMemberSameID(t *testing.T) {
	r := newTestRegistry()
	owner := newFake("alice")
	impostor := &fakeMember{id: owner.ID(), username: "alice"}
	r.Register(owner)

	assert.False(t, r.Unregister(impostor))
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_BroadcastChatFormatsAndExcludesSender(t *testing.T) {
	r := newTestRegistry()
	alice, bob, carol := newFake("alice"), newFake("bob"), newFake("carol")
	for _, m := range []*fakeMember{alice, bob, carol} {
		r.Register(m)
	}

	delivered := r.BroadcastChat(alice, "hello")
	assert.Equal(t, 2, delivered)
	assert.Empty(t, alice.messages())
	assert.Equal(t, []string{"[alice]: hello"}, bob.messages())
	assert.Equal(t, []string{"[alice]: hello"}, carol.messages())
}

func TestRegistry_NotifyReachesEveryone(t *testing.T) {
	r := newTestRegistry()
	alice, bob := newFake("alice"), newFake("bob")
	r.Register(alice)
	r.Register(bob)

	r.Notify("bob joined the chat")
	assert.Equal(t, []string{"*** bob joined the chat ***"}, alice.messages())
	assert.Equal(t, []string{"*** bob joined the chat ***"}, bob.messages())
}

func TestRegistry_SendFailureMarksInactiveAndContinues(t *testing.T) {
	r := newTestRegistry()
	broken := newFake("broken")
	broken.fail = true
	ok1, ok2 := newFake("one"), newFake("two")
	for _, m := range []*fakeMember{broken, ok1, ok2} {
		r.Register(m)
	}

	delivered := r.Notify("ping")
	assert.Equal(t, 2, delivered)
	assert.False(t, broken.Active())
	assert.Equal(t, 3, r.Count(), "broadcast does not unregister")

	// Inactive members are skipped from now on.
	broken.fail = false
	r.Notify("again")
	assert.Empty(t, broken.messages())
	assert.Equal(t, []string{"*** ping ***", "*** again ***"}, ok1.messages())
}

func TestRegistry_UsernamesAndSummary(t *testing.T) {
	r := newTestRegistry()
	for _, name := range []string{"carol", "alice", "bob"} {
		r.Register(newFake(name))
	}
	gone := newFake("zed")
	gone.MarkInactive()
	r.Register(gone)

	assert.Equal(t, []string{"alice", "bob", "carol"}, r.Usernames())
	assert.Equal(t, "3 online: alice, bob, carol", r.OnlineSummary())
}

func TestRegistry_CloseAll(t *testing.T) {
	r := newTestRegistry()
	members := []*fakeMember{newFake("a"), newFake("b")}
	for _, m := range members {
		r.Register(m)
	}

	assert.Equal(t, 2, r.CloseAll())
	assert.Zero(t, r.Count())
	for _, m := range members {
		assert.Equal(t, int32(1), m.closed.Load())
		assert.False(t, m.Active())
	}
	assert.Zero(t, r.CloseAll())
}

func TestRegistry_ConcurrentMutationAndBroadcast(t *testing.T) {
	r := newTestRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := newFake(fmt.Sprintf("user-%d", i))
			for j := 0; j < 50; j++ {
				r.Register(m)
				r.BroadcastChat(m, "hi")
				r.Unregister(m)
			}
		}(i)
	}
	wg.Wait()
	assert.Zero(t, r.Count())
}

// Any sequence of register/unregister calls leaves at most one entry per
// connection, and a broadcast never reaches the excluded member.
func TestRegistryOperations_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := newTestRegistry()
		pool := make([]*fakeMember, rapid.IntRange(1, 6).Draw(t, "poolSize"))
		for i := range pool {
			pool[i] = newFake(rapid.SampledFrom([]string{"alice", "bob"}).Draw(t, "name"))
		}
		model := make(map[connid.ID]bool)

		ops := rapid.IntRange(1, 40).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			m := pool[rapid.IntRange(0, len(pool)-1).Draw(t, "member")]
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				r.Register(m)
				model[m.ID()] = true
			case 1:
				removed := r.Unregister(m)
				if removed != model[m.ID()] {
					t.Fatalf("unregister reported %v, model says %v", removed, model[m.ID()])
				}
				delete(model, m.ID())
			case 2:
				before := len(m.messages())
				r.Broadcast("x", m)
				if len(m.messages()) != before {
					t.Fatalf("excluded member received a broadcast")
				}
			}

			if r.Count() != len(model) {
				t.Fatalf("registry has %d entries, model has %d", r.Count(), len(model))
			}
			seen := make(map[connid.ID]bool)
			for _, member := range r.Members() {
				if seen[member.ID()] {
					t.Fatalf("duplicate entry for connection %s", member.ID())
				}
				seen[member.ID()] = true
			}
		}
	})
}
