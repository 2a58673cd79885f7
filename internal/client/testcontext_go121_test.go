package client

import (
	"context"
	"testing"
)

// testContext mirrors testing.T.Context (Go 1.24+) for the Go 1.21 toolchain:
// it returns a context canceled during test cleanup.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
