package ledger

import (
	"context"
	"sync"
)

// AccountLocker serializes operations on a single account.
type AccountLocker interface {
	LockAccount(ctx context.Context, userID UserID) (unlock func(), err error)
}

// LocalAccountLocker is a keyed mutex for a single process.
type LocalAccountLocker struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	token   chan struct{}
	holders int
}

// NewLocalAccountLocker returns an empty keyed mutex.
func NewLocalAccountLocker() *LocalAccountLocker {
	return &LocalAccountLocker{locks: make(map[string]*accountLock)}
}

// LockAccount blocks until the account is free or ctx is done.
func (locker *LocalAccountLocker) LockAccount(ctx context.Context, userID UserID) (func(), error) {
	key := userID.String()
	locker.mu.Lock()
	lock, ok := locker.locks[key]
	if !ok {
		lock = &accountLock{token: make(chan struct{}, 1)}
		locker.locks[key] = lock
	}
	lock.holders++
	locker.mu.Unlock()

	select {
	case lock.token <- struct{}{}:
	case <-ctx.Done():
		locker.release(key, lock, false)
		return nil, ErrAccountBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() { locker.release(key, lock, true) })
	}, nil
}

func (locker *LocalAccountLocker) release(key string, lock *accountLock, acquired bool) {
	if acquired {
		<-lock.token
	}
	locker.mu.Lock()
	defer locker.mu.Unlock()
	lock.holders--
	if lock.holders == 0 {
		delete(locker.locks, key)
	}
}
