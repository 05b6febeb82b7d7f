package rapyer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"github.com/yedidyakfir/rapyer-sub000/internal/backoff"
	"github.com/yedidyakfir/rapyer-sub000/pkg/store"
)

// LockOptions configures distributed lock acquisition.
type LockOptions struct {
	// Expiry bounds the damage of a crashed holder. Default 30s.
	Expiry time.Duration
	// WaitTimeout bounds the total acquisition wait; exhaustion fails with
	// ErrLockTimeout. Default 10s.
	WaitTimeout time.Duration
	// RetryBase and RetryMax bound the backoff between acquisition
	// attempts. Defaults 50ms and 1s.
	RetryBase time.Duration
	RetryMax  time.Duration
	// SaveOnExit writes the full model back before release when the
	// critical section ends without error.
	SaveOnExit bool
}

func (o LockOptions) withDefaults() LockOptions {
	if o.Expiry <= 0 {
		o.Expiry = 30 * time.Second
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 10 * time.Second
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 50 * time.Millisecond
	}
	if o.RetryMax <= 0 {
		o.RetryMax = time.Second
	}
	return o
}

// LockHandle is ephemeral ownership of a (document key, action) mutex.
// Release is idempotent. Locks are not reentrant.
type LockHandle struct {
	backend store.Backend
	key     string
	token   string

	mu       sync.Mutex
	released bool
}

// Key returns the full lock key, "{DocumentKey}/{Action}".
func (h *LockHandle) Key() string { return h.key }

// Release frees the lock if this handle still owns it.
func (h *LockHandle) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true
	return h.backend.ReleaseLock(ctx, h.key, h.token)
}

// AcquireLock blocks with bounded retry and backoff until no other holder
// exists for (document key, action). Different actions on the same key are
// independent and may be held concurrently. On acquisition the model is
// reloaded to a fresh snapshot; acquiring on a missing document releases
// the lock and fails with ErrNotFound.
func AcquireLock(ctx context.Context, m Model, action string, opts LockOptions) (*LockHandle, error) {
	opts = opts.withDefaults()
	b := m.base()
	h := &LockHandle{
		backend: b.client().backend,
		key:     b.Key() + "/" + action,
		token:   ulid.Make().String(),
	}

	deadline := time.Now().Add(opts.WaitTimeout)
	bo := backoff.New(opts.RetryBase, opts.RetryMax, 0.25)
	for attempt := 0; ; attempt++ {
		ok, err := h.backend.AcquireLock(ctx, h.key, h.token, opts.Expiry)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		glog.V(2).Infof("rapyer: lock %s busy, attempt %d", h.key, attempt)
		if err := bo.Wait(ctx, attempt); err != nil {
			return nil, err
		}
	}

	if err := b.Load(ctx); err != nil {
		relErr := h.Release(ctx)
		if relErr != nil {
			glog.Errorf("rapyer: release %s after failed reload: %v", h.key, relErr)
		}
		return nil, err
	}
	return h, nil
}

// WithLock runs fn while holding the (document key, action) lock. The model
// is reloaded on acquisition; inside fn mutation uses local semantics. On a
// clean exit with SaveOnExit the model is saved before release. The lock is
// released on every exit path — success, error, or panic — without saving
// on error.
func WithLock(ctx context.Context, m Model, action string, opts LockOptions, fn func(context.Context) error) (err error) {
	h, err := AcquireLock(ctx, m, action, opts)
	if err != nil {
		return err
	}
	defer func() {
		relErr := h.Release(ctx)
		if err == nil {
			err = relErr
		}
	}()

	if err = fn(ctx); err != nil {
		return err
	}
	if opts.SaveOnExit {
		err = m.base().Save(ctx)
	}
	return err
}

// LockByKey is type-erased WithLock: given only a document key it looks up
// the registered model type, locks, and runs fn with the loaded model. A
// missing document is reported by the boolean result instead of an error.
func LockByKey(ctx context.Context, cli *Client, key, action string, opts LockOptions, fn func(context.Context, Model) error) (bool, error) {
	typeName, pk, err := SplitKey(key)
	if err != nil {
		return false, err
	}
	info, ok := lookupName(typeName)
	if !ok {
		return false, errors.New("rapyer: model type " + typeName + " is not registered")
	}
	exists, err := cli.backend.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	m, err := newModelValue(info, cli, pk)
	if err != nil {
		return false, err
	}
	err = WithLock(ctx, m, action, opts, func(ctx context.Context) error {
		return fn(ctx, m)
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
