package cas

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore records calls so tier traversal and back-fill are visible.
type fakeStore struct {
	mu    sync.Mutex
	blobs map[Hash][]byte
	puts  int
	gets  int
	fail  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{blobs: make(map[Hash][]byte)}
}

func (f *fakeStore) Put(_ context.Context, hash Hash, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail != nil {
		return f.fail
	}

	f.puts++

	if _, ok := f.blobs[hash]; !ok {
		f.blobs[hash] = value
	}

	return nil
}

func (f *fakeStore) Get(_ context.Context, hash Hash) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail != nil {
		return nil, false, f.fail
	}

	f.gets++
	value, ok := f.blobs[hash]

	return value, ok, nil
}

func TestHashRoundTrip(t *testing.T) {
	h := HashBytes([]byte("payload"))

	parsed, err := ParseHash(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseHash("zz")
	assert.Error(t, err)
}

func TestCodecRoundTripAndDeterminism(t *testing.T) {
	type sample struct {
		Name  string         `msgpack:"name"`
		Count int            `msgpack:"count"`
		Tags  map[string]int `msgpack:"tags"`
	}

	in := sample{Name: "widget", Count: 3, Tags: map[string]int{"b": 2, "a": 1}}

	first, err := Encode(in)
	require.NoError(t, err)

	second, err := Encode(sample{Name: "widget", Count: 3, Tags: map[string]int{"a": 1, "b": 2}})
	require.NoError(t, err)

	// Canonical encoding: map insertion order must not matter.
	assert.Equal(t, first, second)

	var out sample

	require.NoError(t, Decode(first, &out))
	assert.Equal(t, in, out)
}

func TestLayeredPutGetAndFlush(t *testing.T) {
	ctx := context.Background()
	memory := NewMemoryStore(16, 0, 0)
	persistent := newFakeStore()

	layered := NewLayered(time.Second, memory, persistent)
	defer layered.Close(ctx)

	hash, err := layered.Put(ctx, []byte("blob"))
	require.NoError(t, err)
	assert.Equal(t, HashBytes([]byte("blob")), hash)

	require.NoError(t, layered.Flush(ctx))

	persistent.mu.Lock()
	_, persisted := persistent.blobs[hash]
	persistent.mu.Unlock()
	assert.True(t, persisted, "journal must reach the persistent tier")

	value, found, err := layered.Get(ctx, hash)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("blob"), value)
}

func TestLayeredBackFillsUpperTiers(t *testing.T) {
	ctx := context.Background()
	memory := NewMemoryStore(16, 0, 0)
	persistent := newFakeStore()

	hash := HashBytes([]byte("cold"))
	persistent.blobs[hash] = []byte("cold")

	layered := NewLayered(time.Second, memory, persistent)
	defer layered.Close(ctx)

	_, found, err := layered.Get(ctx, hash)
	require.NoError(t, err)
	require.True(t, found)

	// Second read must be served from memory.
	value, found, err := memory.Get(ctx, hash)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("cold"), value)
}

func TestLayeredMissReturnsNoError(t *testing.T) {
	ctx := context.Background()

	layered := NewLayered(time.Second, NewMemoryStore(4, 0, 0), newFakeStore())
	defer layered.Close(ctx)

	_, found, err := layered.Get(ctx, HashBytes([]byte("absent")))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLayeredDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	persistent := newFakeStore()

	hash := HashBytes([]byte("original"))
	persistent.blobs[hash] = []byte("tampered")

	layered := NewLayered(time.Second, NewMemoryStore(4, 0, 0), persistent)
	defer layered.Close(ctx)

	_, _, err := layered.Get(ctx, hash)
	require.Error(t, err)
	assert.True(t, IsCorruption(err))
}

func TestTypedRoundTrip(t *testing.T) {
	ctx := context.Background()

	layered := NewLayered(time.Second, NewMemoryStore(4, 0, 0), newFakeStore())
	defer layered.Close(ctx)

	type doc struct {
		Key string `msgpack:"key"`
	}

	hash, err := layered.PutTyped(ctx, doc{Key: "value"})
	require.NoError(t, err)

	var out doc

	found, err := layered.GetTyped(ctx, hash, &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "value", out.Key)
}

func TestMemoryStoreEviction(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(2, 0, 0)

	first := HashBytes([]byte("1"))
	second := HashBytes([]byte("2"))
	third := HashBytes([]byte("3"))

	require.NoError(t, store.Put(ctx, first, []byte("1")))
	require.NoError(t, store.Put(ctx, second, []byte("2")))

	// Touch first so second is the LRU victim.
	_, _, err := store.Get(ctx, first)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, third, []byte("3")))

	_, found, _ := store.Get(ctx, second)
	assert.False(t, found)

	_, found, _ = store.Get(ctx, first)
	assert.True(t, found)
}

func TestMemoryStoreTTL(t *testing.T) {
	store := NewMemoryStore(8, 50*time.Millisecond, 0)

	current := time.Now()
	store.now = func() time.Time { return current }

	hash := HashBytes([]byte("ttl"))
	require.NoError(t, store.Put(context.Background(), hash, []byte("ttl")))

	current = current.Add(100 * time.Millisecond)

	_, found, _ := store.Get(context.Background(), hash)
	assert.False(t, found)
	assert.Zero(t, store.Len())
}
