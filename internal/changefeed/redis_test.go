package changefeed

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	feed := NewRedis(client)
	t.Cleanup(func() { feed.Close() })
	return mr, feed
}

func TestRedis_PublishListen(t *testing.T) {
	_, feed := setupTestRedis(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := feed.Listen(ctx)
	require.NoError(t, err)

	want := Change{UserID: 42, Collection: CollectionBlocks}
	require.NoError(t, feed.Publish(ctx, want))

	assert.Equal(t, want, receive(t, ch))
}

func TestRedis_IgnoresMalformedPayload(t *testing.T) {
	mr, feed := setupTestRedis(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := feed.Listen(ctx)
	require.NoError(t, err)

	mr.Publish(RedisChannel, "not json")
	want := Change{UserID: 3, Collection: CollectionAuth}
	require.NoError(t, feed.Publish(ctx, want))

	assert.Equal(t, want, receive(t, ch))
}

func TestRedis_ListenerClosesWithContext(t *testing.T) {
	_, feed := setupTestRedis(t)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := feed.Listen(ctx)
	require.NoError(t, err)

	cancel()
	waitClosed(t, ch)
}

func TestRedis_Close(t *testing.T) {
	_, feed := setupTestRedis(t)

	require.NoError(t, feed.Close())
	require.NoError(t, feed.Close())

	assert.ErrorIs(t, feed.Publish(context.Background(), Change{UserID: 1}), ErrClosed)
	_, err := feed.Listen(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNew_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	feed, err := New(context.Background(), Config{Kind: KindRedis, RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer feed.Close()
	assert.IsType(t, &Redis{}, feed)
}
