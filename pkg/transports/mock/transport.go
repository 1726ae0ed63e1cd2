package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/voxloop/voxloop/pkg/frames"
)

// Transport is an in-memory transport for local testing and integration.
// It implements the transports.Transport interface without any network dependency.
type Transport struct {
	recvCh chan frames.Frame
	mu     sync.Mutex
	sent   []frames.Frame
	closed atomic.Bool
}

func New() *Transport {
	return &Transport{
		recvCh: make(chan frames.Frame, 256),
	}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	if t.closed.CompareAndSwap(false, true) {
		close(t.recvCh)
	}
	return nil
}

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

func (t *Transport) Send(f frames.Frame) error {
	if t.closed.Load() {
		return nil
	}
	t.mu.Lock()
	t.sent = append(t.sent, f)
	t.mu.Unlock()
	return nil
}

// Push injects an inbound frame, as if a user acted in the UI.
func (t *Transport) Push(f frames.Frame) {
	if t.closed.Load() {
		return
	}
	select {
	case t.recvCh <- f:
	default:
	}
}

// Sent returns a snapshot of outbound frames for inspection.
func (t *Transport) Sent() []frames.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]frames.Frame, len(t.sent))
	copy(out, t.sent)
	return out
}

// SentOfKind filters the snapshot by frame kind.
func (t *Transport) SentOfKind(kind frames.Kind) []frames.Frame {
	var out []frames.Frame
	for _, f := range t.Sent() {
		if f.Kind() == kind {
			out = append(out, f)
		}
	}
	return out
}
