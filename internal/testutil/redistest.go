package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisTest returns a client for a clean Redis database plus a cleanup
// function. REDIS_URL selects an existing server; otherwise a throwaway
// container is started. The test is skipped when neither is available.
func RedisTest(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	terminate := func() {}
	var opts *redis.Options
	if url := os.Getenv("REDIS_URL"); url != "" {
		var err error
		if opts, err = redis.ParseURL(url); err != nil {
			t.Fatalf("redistest: parse REDIS_URL: %v", err)
		}
	} else {
		ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForListeningPort("6379/tcp"),
			},
			Started: true,
		})
		if err != nil {
			t.Skipf("redistest: REDIS_URL not set and container unavailable: %v", err)
		}
		terminate = func() { _ = testcontainers.TerminateContainer(ctr) }

		addr, err := ctr.Endpoint(ctx, "")
		if err != nil {
			terminate()
			t.Fatalf("redistest: endpoint: %v", err)
		}
		opts = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		terminate()
		t.Fatalf("redistest: ping: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		_ = client.Close()
		terminate()
		t.Fatalf("redistest: flush: %v", err)
	}

	return client, func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
		terminate()
	}
}
