package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryIDsStrictlyIncreasingAndNeverReused(t *testing.T) {
	r := newRegistry(time.Now)

	id1 := r.add(&entry{kind: KindSlot})
	id2 := r.add(&entry{kind: KindSlot})
	_, _ = r.remove(id1)
	id3 := r.add(&entry{kind: KindSlot})

	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)
	assert.Equal(t, uint64(3), id3)
	assert.NotEqual(t, id1, id3)
}

func TestRegistryRemoveByRemoteIsAtomic(t *testing.T) {
	r := newRegistry(time.Now)
	e := &entry{kind: KindSignature}
	id := r.add(e)
	r.setRemote(id, 42)

	removed, ok := r.removeByRemote(42)
	require.True(t, ok)
	assert.Equal(t, id, removed.id)

	_, ok = r.get(id)
	assert.False(t, ok)
	_, ok = r.findByRemote(42)
	assert.False(t, ok)

	_, ok = r.removeByRemote(42)
	assert.False(t, ok)
}

func TestRegistryClearRemoteHandles(t *testing.T) {
	r := newRegistry(time.Now)
	e := &entry{kind: KindAccount}
	id := r.add(e)
	r.setRemote(id, 7)

	r.clearRemoteHandles()

	got, ok := r.get(id)
	require.True(t, ok)
	assert.False(t, got.hasRemote)
	_, ok = r.findByRemote(7)
	assert.False(t, ok)
}

func TestRegistryAllIsASnapshot(t *testing.T) {
	r := newRegistry(time.Now)
	r.add(&entry{kind: KindAccount})
	r.add(&entry{kind: KindProgram})

	all := r.all()
	assert.Len(t, all, 2)
}
