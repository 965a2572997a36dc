package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var mongoContainer sharedContainer

// GetMongoURI returns a mongodb:// URI of a shared MongoDB container.
func GetMongoURI(t *testing.T) string {
	t.Helper()
	return mongoContainer.address(t, "mongo", func(ctx context.Context) (string, error) {
		mongoC, err := testcontainers.Run(
			ctx, "mongo:7",
			testcontainers.WithExposedPorts("27017/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("27017/tcp"),
				wait.ForLog("mongod startup complete"),
			),
		)
		if err != nil {
			return "", err
		}
		endpoint, err := mongoC.Endpoint(ctx, "")
		if err != nil {
			_ = mongoC.Terminate(context.Background()) // best-effort cleanup
			return "", err
		}
		return fmt.Sprintf("mongodb://%s", endpoint), nil
	})
}
