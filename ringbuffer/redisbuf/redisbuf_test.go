package redisbuf

import (
	"context"
	"fmt"
	"testing"

	"github.com/agentforge/core/events"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	testRedisClient    *redis.Client
	testRedisContainer testcontainers.Container
	skipRedisTests     bool
)

func setupRedis() {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, Redis tests will be skipped: %v\n", containerErr)
		skipRedisTests = true
		return
	}

	host, err := testRedisContainer.Host(ctx)
	if err != nil {
		fmt.Printf("Failed to get container host: %v\n", err)
		skipRedisTests = true
		return
	}

	port, err := testRedisContainer.MappedPort(ctx, "6379")
	if err != nil {
		fmt.Printf("Failed to get container port: %v\n", err)
		skipRedisTests = true
		return
	}

	testRedisClient = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	if err := testRedisClient.Ping(ctx).Err(); err != nil {
		fmt.Printf("Failed to ping Redis: %v\n", err)
		skipRedisTests = true
		return
	}
}

func getBuffer(t *testing.T, capacity int) *Buffer {
	t.Helper()
	if testRedisClient == nil && !skipRedisTests {
		setupRedis()
	}
	if skipRedisTests {
		t.Skip("Docker not available, skipping Redis test")
	}
	return New(testRedisClient, capacity, WithKeyPrefix(fmt.Sprintf("test:%s:", t.Name())))
}

func TestAppend_AssignsIncreasingOrdinalsPerContext(t *testing.T) {
	b := getBuffer(t, 10)
	ctx := context.Background()

	id1, err := b.Append(ctx, "ctx1", events.TaskCreated{})
	require.NoError(t, err)
	id2, err := b.Append(ctx, "ctx1", events.TaskCreated{})
	require.NoError(t, err)

	require.Less(t, id1, id2)
}

func TestReplay_ReturnsEventsStrictlyAfterSinceID(t *testing.T) {
	b := getBuffer(t, 20)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		id, err := b.Append(ctx, "ctx1", events.ContentDelta{Index: i})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	result, err := b.Replay(ctx, "ctx1", ids[1])
	require.NoError(t, err)
	require.False(t, result.Gap)
	require.Len(t, result.Entries, 3)
}

func TestReplay_NoEntriesForUnknownContext(t *testing.T) {
	b := getBuffer(t, 10)
	ctx := context.Background()

	result, err := b.Replay(ctx, "nonexistent", 0)
	require.NoError(t, err)
	require.Empty(t, result.Entries)
	require.False(t, result.Gap)
}

func TestAppend_TrimsPastCapacity(t *testing.T) {
	b := getBuffer(t, 3)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := b.Append(ctx, "ctx1", events.ContentDelta{Index: i})
		require.NoError(t, err)
	}

	result, err := b.Replay(ctx, "ctx1", 0)
	require.NoError(t, err)
	require.LessOrEqual(t, len(result.Entries), 6) // MAXLEN ~ is approximate, not exact
}

func TestReplay_PreservesEventKindAcrossRoundTrip(t *testing.T) {
	b := getBuffer(t, 10)
	ctx := context.Background()

	_, err := b.Append(ctx, "ctx1", events.ContentDelta{Delta: "hi", Index: 0})
	require.NoError(t, err)

	result, err := b.Replay(ctx, "ctx1", 0)
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	require.Equal(t, events.KindContentDelta, result.Entries[0].Event.Meta().Kind)
}
