// Package engine provides shared plumbing for the node's engines: the work
// notifier and the sentinel error types that distinguish benign invalid
// inputs from exceptions.
package engine

// Notifier is a concurrency primitive for informing worker routines about
// the arrival of new work unit(s). Notifiers behave like channels in that
// they can be passed by value and still allow concurrent updates of the same
// internal state.
type Notifier struct {
	// The notifier behaves like a gate with memory: notifying an
	// already-notified gate is a no-op, and a single worker passes per
	// notification. A buffered channel with capacity 1 implements exactly
	// this.
	notifier chan struct{}
}

// NewNotifier instantiates a Notifier.
func NewNotifier() Notifier {
	return Notifier{make(chan struct{}, 1)}
}

// Notify sends a notification. Non-blocking: if no worker is draining the
// channel and a notification is already pending, the call is a no-op.
func (n Notifier) Notify() {
	select {
	case n.notifier <- struct{}{}:
	default:
	}
}

// Channel returns a channel for receiving notifications.
func (n Notifier) Channel() <-chan struct{} {
	return n.notifier
}
