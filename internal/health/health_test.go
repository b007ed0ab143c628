package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy(context.Context) Status { return Status{Healthy: true} }
func unhealthy(context.Context) Status { return Status{Healthy: false, Detail: "down"} }

func TestRegistry_Empty(t *testing.T) {
	ok, statuses := NewRegistry(0).CheckAll(context.Background())
	assert.True(t, ok)
	assert.Empty(t, statuses)
}

func TestRegistry_KeepsOrderAndNames(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("store", healthy)
	r.RegisterOptional("narration", func(context.Context) Status {
		return Status{Name: "ignored", Healthy: true, Detail: "template"}
	})

	ok, statuses := r.CheckAll(context.Background())
	require.True(t, ok)
	require.Len(t, statuses, 2)
	assert.Equal(t, Status{Name: "store", Healthy: true, Critical: true}, statuses[0])
	assert.Equal(t, Status{Name: "narration", Healthy: true, Detail: "template"}, statuses[1])
}

func TestRegistry_CriticalFailureDegrades(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("store", unhealthy)
	r.RegisterOptional("narration", healthy)

	ok, statuses := r.CheckAll(context.Background())
	assert.False(t, ok)
	assert.False(t, statuses[0].Healthy)
	assert.Equal(t, "down", statuses[0].Detail)
}

func TestRegistry_OptionalFailureReportedOnly(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("store", healthy)
	r.RegisterOptional("narration", unhealthy)

	ok, statuses := r.CheckAll(context.Background())
	assert.True(t, ok)
	assert.False(t, statuses[1].Healthy)
}

func TestRegistry_SlowCheckTimesOut(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	r.Register("store", func(ctx context.Context) Status {
		<-release
		return Status{Healthy: true}
	})

	start := time.Now()
	ok, statuses := r.CheckAll(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, ok)
	assert.Equal(t, "timed out", statuses[0].Detail)
}

func TestRegistry_ChecksRunConcurrently(t *testing.T) {
	r := NewRegistry(time.Second)
	slow := func(context.Context) Status {
		time.Sleep(100 * time.Millisecond)
		return Status{Healthy: true}
	}
	for _, name := range []string{"a", "b", "c", "d"} {
		r.Register(name, slow)
	}

	start := time.Now()
	ok, _ := r.CheckAll(context.Background())
	assert.True(t, ok)
	assert.Less(t, time.Since(start), 350*time.Millisecond)
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestPingChecker(t *testing.T) {
	up := PingChecker(fakePinger{})(context.Background())
	assert.True(t, up.Healthy)

	down := PingChecker(fakePinger{err: errors.New("connection refused")})(context.Background())
	assert.False(t, down.Healthy)
	assert.Equal(t, "connection refused", down.Detail)
}
