package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserStoreRegisterAndValidate(t *testing.T) {
	dir := t.TempDir()
	s, err := NewUserStore(dir)
	require.NoError(t, err)

	assert.True(t, s.Register("alice", "p"))
	assert.False(t, s.Register("alice", "q"), "duplicate register must fail")
	assert.True(t, s.Validate("alice", "p"))
	assert.False(t, s.Validate("alice", "wrong"))
	assert.False(t, s.Validate("nobody", "x"))
}

func TestUserStorePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewUserStore(dir)
	require.NoError(t, err)
	require.True(t, s1.Register("bob", "secret"))

	s2, err := NewUserStore(dir)
	require.NoError(t, err)
	assert.True(t, s2.Validate("bob", "secret"))
}

func TestUserStoreConcurrentRegisters(t *testing.T) {
	dir := t.TempDir()
	s, err := NewUserStore(dir)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Register("shared", "pw")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, ok := range results {
		if ok {
			successes++
		}
	}
	assert.Equal(t, 1, successes, "only one concurrent register of the same username may succeed")
}

func TestHistoryStoreCanonicalPairing(t *testing.T) {
	dir := t.TempDir()
	h, err := NewHistoryStore(dir)
	require.NoError(t, err)

	h.Append("alice", "bob", "hi")
	h.Append("bob", "alice", "hello back")

	fromAlice := h.Get("alice", "bob")
	fromBob := h.Get("bob", "alice")
	assert.Equal(t, fromAlice, fromBob)
	require.Len(t, fromAlice, 2)
	assert.Equal(t, "alice", fromAlice[0].Sender)
	assert.Equal(t, "bob", fromAlice[1].Sender)
}

func TestHistoryStoreBroadcastKey(t *testing.T) {
	dir := t.TempDir()
	h, err := NewHistoryStore(dir)
	require.NoError(t, err)

	h.Append("alice", "", "hello everyone")
	entries := h.Get("anyone", "")
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Sender)
	assert.Equal(t, "hello everyone", entries[0].Message)
}

func TestHistoryStoreEmptyForUnknownPair(t *testing.T) {
	dir := t.TempDir()
	h, err := NewHistoryStore(dir)
	require.NoError(t, err)

	assert.Empty(t, h.Get("nobody", "else"))
}
