package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// SessionFactory builds a session for a transport connection.
type SessionFactory func(ctx context.Context, sessionID string) (*Session, error)

// SessionRegistry tracks one session per transport connection.
type SessionRegistry struct {
	sessions sync.Map
	count    atomic.Int64
	factory  SessionFactory
	draining atomic.Bool
}

func NewSessionRegistry(factory SessionFactory) *SessionRegistry {
	return &SessionRegistry{factory: factory}
}

// GetOrCreate returns the session for sessionID, creating and starting
// it on first use. The second return reports whether it was created.
func (r *SessionRegistry) GetOrCreate(sessionID string) (*Session, bool, error) {
	if sessionID == "" || r.draining.Load() {
		return nil, false, nil
	}
	if v, ok := r.sessions.Load(sessionID); ok {
		return v.(*Session), false, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess, err := r.factory(ctx, sessionID)
	if err != nil {
		cancel()
		return nil, false, err
	}
	sess.cancel = cancel
	actual, loaded := r.sessions.LoadOrStore(sessionID, sess)
	if loaded {
		cancel()
		return actual.(*Session), false, nil
	}
	sess.Start()
	r.count.Add(1)
	return sess, true, nil
}

func (r *SessionRegistry) Get(sessionID string) (*Session, bool) {
	if v, ok := r.sessions.Load(sessionID); ok {
		return v.(*Session), true
	}
	return nil, false
}

func (r *SessionRegistry) Remove(sessionID string) {
	if v, ok := r.sessions.LoadAndDelete(sessionID); ok {
		sess := v.(*Session)
		_ = sess.Close()
		r.count.Add(-1)
	}
}

func (r *SessionRegistry) CloseAll() {
	r.sessions.Range(func(key, value any) bool {
		if id, ok := key.(string); ok {
			r.Remove(id)
		}
		return true
	})
}

func (r *SessionRegistry) Count() int64 {
	return r.count.Load()
}

func (r *SessionRegistry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *SessionRegistry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
