package irrecoverable

import (
	"context"
	"log"
	"runtime"
)

// Signaler sends an irrecoverable error out to whoever is supervising the
// failing component.
type Signaler struct {
	errChan chan error
}

func NewSignaler() (*Signaler, <-chan error) {
	errChan := make(chan error, 1)
	return &Signaler{errChan: errChan}, errChan
}

// Throw is a narrow drop-in replacement for panic, log.Fatal, log.Panic,
// etc anywhere there is something connected to the error channel. Only the
// first error thrown is delivered; subsequent calls still exit the calling
// goroutine.
func (s *Signaler) Throw(err error) {
	defer runtime.Goexit()
	select {
	case s.errChan <- err:
	default:
		// an error was already thrown by another goroutine
	}
}

// SignalerContext is a constrained drop-in replacement for context.Context
// that additionally carries a channel for irrecoverable errors. Components
// treat Throw as their supervisor escalation point: an error thrown here is
// fatal to the component tree and must never be swallowed.
type SignalerContext interface {
	context.Context
	Throw(err error) // delegates to the signaler
	sealed()         // private, to constrain building to WithSignaler
}

type signalerCtx struct {
	context.Context
	*Signaler
}

func (sc signalerCtx) sealed() {}

// WithSignaler is the One True Way of getting a SignalerContext.
func WithSignaler(parent context.Context) (SignalerContext, <-chan error) {
	sig, errChan := NewSignaler()
	return signalerCtx{parent, sig}, errChan
}

// Throw enables throwing an irrecoverable error from a plain
// context.Context, provided the context was derived from a SignalerContext.
//
// If the context does not support irrecoverable errors, there is nothing
// sensible left to do, so we crash loudly.
func Throw(ctx context.Context, err error) {
	signalerAbleContext, ok := ctx.(SignalerContext)
	if ok {
		signalerAbleContext.Throw(err)
	}
	log.Fatalf("irrecoverable error signaler not found for context, please implement! Unhandled irrecoverable error: %v", err)
}
