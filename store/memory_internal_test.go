package store

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryValidate(t *testing.T) {
	valid := Memory{Content: "remember this", Category: "facts", Importance: 3}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(m *Memory)
	}{
		{"empty content", func(m *Memory) { m.Content = "" }},
		{"empty category", func(m *Memory) { m.Category = "" }},
		{"importance too low", func(m *Memory) { m.Importance = 0 }},
		{"importance too high", func(m *Memory) { m.Importance = 6 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid
			tt.mutate(&m)
			err := m.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidArgument))
		})
	}
}

func TestMemoryIsExpired(t *testing.T) {
	now := time.Now()

	never := Memory{ExpiresTs: 0}
	assert.False(t, never.IsExpired(now))

	past := Memory{ExpiresTs: now.Add(-time.Hour).Unix()}
	assert.True(t, past.IsExpired(now))

	future := Memory{ExpiresTs: now.Add(time.Hour).Unix()}
	assert.False(t, future.IsExpired(now))
}

func TestNormalizeTags(t *testing.T) {
	got := normalizeTags([]string{" Python ", "python", "PYTHON", "", "golang"})
	assert.Equal(t, []string{"python", "golang"}, got)
}

func TestUpdateMemoryHasChanges(t *testing.T) {
	empty := UpdateMemory{ID: "id"}
	assert.False(t, empty.HasChanges())

	content := "changed"
	assert.True(t, (&UpdateMemory{ID: "id", Content: &content}).HasChanges())
	assert.True(t, (&UpdateMemory{ID: "id", BumpAccess: true}).HasChanges())
}

func TestKeyLockSerializesSameKey(t *testing.T) {
	locks := newKeyLock()

	const workers = 32
	counter := 0
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			unlock := locks.Lock("same")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
	// Entry is removed once the last holder releases.
	locks.mu.Lock()
	assert.Empty(t, locks.locks)
	locks.mu.Unlock()
}

func TestKeyLockDistinctKeysDoNotBlock(t *testing.T) {
	locks := newKeyLock()

	unlockA := locks.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on a distinct key blocked")
	}
	unlockA()
}
