package websocket

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterLookup(t *testing.T) {
	r := NewRegistry()
	a := NewClient(nil, nil, 1, "alice")

	_, ok := r.Lookup(1)
	assert.False(t, ok)
	assert.False(t, r.IsOnline(1))

	assert.Nil(t, r.Register(1, "alice", a))
	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.True(t, r.IsOnline(1))

	name, ok := r.DisplayName(1)
	require.True(t, ok)
	assert.Equal(t, "alice", name)
}

func TestRegistryOneEntryPerUser(t *testing.T) {
	r := NewRegistry()
	first := NewClient(nil, nil, 1, "alice")
	second := NewClient(nil, nil, 1, "alice")

	r.Register(1, "alice", first)
	prev := r.Register(1, "alice", second)
	assert.Same(t, first, prev)
	assert.Equal(t, 1, r.Len())

	got, _ := r.Lookup(1)
	assert.Same(t, second, got)
	assert.Len(t, r.Snapshot(), 1)
}

func TestRegistryUnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Register(1, "alice", NewClient(nil, nil, 1, "alice"))

	r.Unregister(1)
	r.Unregister(1)
	r.Unregister(42)
	assert.False(t, r.IsOnline(1))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryReleaseOnlyRemovesCurrentHandle(t *testing.T) {
	r := NewRegistry()
	old := NewClient(nil, nil, 1, "alice")
	cur := NewClient(nil, nil, 1, "alice")
	r.Register(1, "alice", old)
	r.Register(1, "alice", cur)

	assert.False(t, r.Release(1, old))
	assert.True(t, r.IsOnline(1))

	assert.True(t, r.Release(1, cur))
	assert.False(t, r.IsOnline(1))
	assert.False(t, r.Release(1, cur))
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Register(1, "alice", NewClient(nil, nil, 1, "alice"))
	r.Register(2, "bob", NewClient(nil, nil, 2, "bob"))

	snap := r.Snapshot()
	r.Unregister(1)
	r.Unregister(2)
	assert.Len(t, snap, 2)
	assert.Empty(t, r.Snapshot())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := int64(1); i <= 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			c := NewClient(nil, nil, id, "user")
			for j := 0; j < 100; j++ {
				r.Register(id, "user", c)
				_, _ = r.Lookup(id)
				_ = r.Snapshot()
				r.Release(id, c)
			}
			r.Register(id, "user", c)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, r.Len())
}
