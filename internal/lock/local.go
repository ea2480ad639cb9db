package lock

import (
	"context"
	"sync"
	"time"
)

const defaultWait = 3 * time.Second

type localSlot struct {
	ch   chan struct{}
	refs int
}

// LocalLocker serialises holders of one key inside this process. Slots are
// reference counted and dropped once nobody holds or waits for them.
type LocalLocker struct {
	wait time.Duration

	mu    sync.Mutex
	slots map[string]*localSlot
}

var _ Locker = (*LocalLocker)(nil)

func NewLocalLocker(wait time.Duration) *LocalLocker {
	if wait <= 0 {
		wait = defaultWait
	}
	return &LocalLocker{wait: wait, slots: make(map[string]*localSlot)}
}

func (l *LocalLocker) Obtain(ctx context.Context, key string) (Release, error) {
	slot := l.acquireSlot(key)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case slot.ch <- struct{}{}:
	case <-timer.C:
		l.dropSlot(key, slot)
		return nil, ErrLockBusy
	case <-ctx.Done():
		l.dropSlot(key, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-slot.ch
			l.dropSlot(key, slot)
		})
		return nil
	}, nil
}

// Len reports how many keys currently have holders or waiters.
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *LocalLocker) acquireSlot(key string) *localSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[key]
	if !ok {
		slot = &localSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	return slot
}

func (l *LocalLocker) dropSlot(key string, slot *localSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot.refs--
	if slot.refs == 0 && l.slots[key] == slot {
		delete(l.slots, key)
	}
}
