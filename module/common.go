package module

import (
	"errors"

	"github.com/timechain/timekeeper/module/irrecoverable"
)

// ErrMultipleStartup is thrown (via SignalerContext) if a component is
// started more than once.
var ErrMultipleStartup = errors.New("component may only be started once")

// ReadyDoneAware provides an easy interface to wait for module startup and
// shutdown. Modules that implement this interface only support a single
// start-stop cycle and will not restart if Ready() is called again after
// shutdown has already commenced.
type ReadyDoneAware interface {
	// Ready commences startup of the module, and returns a ready channel
	// that is closed once startup has completed. Note that the ready channel
	// may never close if errors are encountered during startup.
	// If shutdown has already commenced before this method is called for the
	// first time, startup will not be performed and the returned channel
	// will also never close.
	// This should be an idempotent method.
	Ready() <-chan struct{}

	// Done commences shutdown of the module, and returns a done channel that
	// is closed once shutdown has completed. Note that the done channel
	// should be closed even if errors are encountered during shutdown.
	// This should be an idempotent method.
	Done() <-chan struct{}
}

// Startable provides an interface to start a component. Once started, the
// component can be stopped by cancelling the given context.
type Startable interface {
	// Start starts the component. Any irrecoverable errors encountered while
	// the component is running should be thrown with the given context.
	// This method should only be called once, and subsequent calls should
	// throw ErrMultipleStartup.
	Start(irrecoverable.SignalerContext)
}
