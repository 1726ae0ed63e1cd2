package transports

import (
	"context"

	"github.com/voxloop/voxloop/pkg/frames"
)

// Transport defines a vendor-agnostic I/O boundary between the engine
// and a user interface. Inbound frames are user actions (start,
// cancel) and typed text; outbound frames are state updates, progress,
// response tokens, and audio.
// Implementations are responsible for their own network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan frames.Frame
	Send(frames.Frame) error
}

// ReadyReporter allows transports to expose readiness metadata (e.g.,
// listen addresses) for informational logging.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
