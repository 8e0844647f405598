package session

import (
	"context"
	"time"
)

const (
	// DefaultLockTTL bounds how long a crashed holder can block a
	// conversation.
	DefaultLockTTL = 30 * time.Second

	lockRetryInterval = 20 * time.Millisecond
	unlockTimeout     = 5 * time.Second
)

// Locker is implemented by stores that several processes can share. The
// Manager holds the store lock for the whole turn, inside its own per-key
// lock.
type Locker interface {
	// Lock blocks until key is held or ctx ends. The returned func releases
	// the lock.
	Lock(ctx context.Context, key Key) (unlock func(), err error)
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	lockTTL time.Duration
}

// WithLockTTL sets how long a turn lock lives before other processes may
// take it over. It should exceed the longest turn.
func WithLockTTL(d time.Duration) Option {
	return func(o *storeOptions) {
		if d > 0 {
			o.lockTTL = d
		}
	}
}

func applyOptions(opts []Option) storeOptions {
	o := storeOptions{lockTTL: DefaultLockTTL}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// acquire calls try until it reports the lock taken, try fails, or ctx
// ends.
func acquire(ctx context.Context, try func() (bool, error)) error {
	for {
		ok, err := try()
		if ok && err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		t := time.NewTimer(lockRetryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// unlockContext survives the turn's cancellation so the lock is released
// after a timeout too.
func unlockContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
}
