package testutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

// sharedContainer starts a container at most once per test binary. The
// container is left to the testcontainers reaper so later tests in the same
// package can keep using it.
type sharedContainer struct {
	once sync.Once
	addr string
	err  error
}

func (c *sharedContainer) address(t *testing.T, name string, start func(ctx context.Context) (string, error)) string {
	t.Helper()
	if testing.Short() {
		t.Skipf("skipping %s container test in -short mode", name)
	}

	c.once.Do(func() {
		// Give generous timeout in CI environments
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		c.addr, c.err = start(ctx)
	})

	if c.err != nil {
		t.Skipf("%s container unavailable: %v", name, c.err)
	}
	return c.addr
}
