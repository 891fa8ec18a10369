package irrecoverable

import (
	"context"
	"testing"
)

// MockSignalerContext is a SignalerContext for testing which fails the test
// if an irrecoverable error is thrown. Tests that expect a specific fatal
// error should supervise a real SignalerContext's error channel instead.
type MockSignalerContext struct {
	context.Context
	t *testing.T
}

var _ SignalerContext = (*MockSignalerContext)(nil)

func (m *MockSignalerContext) sealed() {}

func (m *MockSignalerContext) Throw(err error) {
	m.t.Fatalf("mock signaler context received irrecoverable error: %v", err)
}

func NewMockSignalerContext(t *testing.T, ctx context.Context) *MockSignalerContext {
	return &MockSignalerContext{
		Context: ctx,
		t:       t,
	}
}
