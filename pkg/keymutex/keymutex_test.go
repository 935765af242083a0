package keymutex

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyMutex_SerializesSameKey(t *testing.T) {
	km := New()
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = km.Do("aff-1", func() error {
				v := counter
				counter = v + 1
				return nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)
}

func TestKeyMutex_IndependentKeysDoNotBlock(t *testing.T) {
	km := New()
	km.Lock("aff-1")
	defer km.Unlock("aff-1")

	done := make(chan struct{})
	go func() {
		_ = km.Do("aff-2", func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("operation on a different key blocked")
	}
}

func TestKeyMutex_EntryFreedAfterUse(t *testing.T) {
	km := New()
	_ = km.Do("x", func() error { return nil })
	km.mu.Lock()
	defer km.mu.Unlock()
	require.Empty(t, km.locks)
}
