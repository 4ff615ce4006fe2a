package lock

import (
	"context"
	"sync"
)

// LocalLocker serializes users inside one process. It is used with the
// memory driver, where there is no second instance to coordinate with.
type LocalLocker struct {
	slots sync.Map
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

func (l *LocalLocker) LockUser(ctx context.Context, userID int64) (func(), error) {
	v, _ := l.slots.LoadOrStore(userID, make(chan struct{}, 1))
	slot := v.(chan struct{})

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
