// Package eventbus defines the port for publishing engine events to the
// message queue. Publishing is best-effort from the engine's perspective;
// delivery guarantees belong to the queue.
package eventbus

import "context"

// Publisher sends a serialized event on a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}
