package controller

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Locker guards a control-loop invocation against overlapping runs.
// TryLock never blocks waiting for the holder: ok is false when another run
// holds the lock.
type Locker interface {
	TryLock(ctx context.Context) (release func(), ok bool, err error)
}

// LocalLock is a process-wide single-flight guard.
type LocalLock struct {
	sem *semaphore.Weighted
}

// NewLocalLock creates an unlocked LocalLock.
func NewLocalLock() *LocalLock {
	return &LocalLock{sem: semaphore.NewWeighted(1)}
}

func (l *LocalLock) TryLock(ctx context.Context) (func(), bool, error) {
	if !l.sem.TryAcquire(1) {
		return nil, false, nil
	}
	return func() { l.sem.Release(1) }, true, nil
}

// ChainLock acquires each lock in order and releases in reverse. If any lock
// is unavailable or fails, the ones already held are released.
type ChainLock []Locker

func (c ChainLock) TryLock(ctx context.Context) (func(), bool, error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, l := range c {
		if l == nil {
			continue
		}
		release, ok, err := l.TryLock(ctx)
		if err != nil || !ok {
			releaseAll()
			return nil, false, err
		}
		releases = append(releases, release)
	}
	return releaseAll, true, nil
}

var (
	_ Locker = (*LocalLock)(nil)
	_ Locker = ChainLock(nil)
)
