package lock

import (
	"context"
	"errors"
)

// ErrLockBusy means the key stayed held for the whole bounded wait. Callers
// should surface it as retryable.
var ErrLockBusy = errors.New("lock busy")

// Release gives the lock back. It is safe to call once.
type Release func(ctx context.Context) error

// Locker grants per-key mutual exclusion with a bounded wait.
type Locker interface {
	Obtain(ctx context.Context, key string) (Release, error)
}
