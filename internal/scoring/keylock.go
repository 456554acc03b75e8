package scoring

import (
	"fmt"
	"sync"

	"github.com/yume-project/yume/internal/osu"
)

// keyLock hands out one mutex per personal-best key. Entries are dropped
// once nobody holds or waits for them.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*refMutex)}
}

func bestKey(userID int32, checksum string, mode osu.PlayMode, variant osu.Variant) string {
	return fmt.Sprintf("%d:%s:%d:%d", userID, checksum, mode, variant)
}

// lock blocks until key is free and returns the matching unlock.
func (k *keyLock) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
