package changefeed_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unwatchhq/unwatch/internal/changefeed"
	"github.com/unwatchhq/unwatch/internal/testutil"
)

func receiveChange(t *testing.T, ch <-chan changefeed.Change) changefeed.Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "listener channel closed")
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change")
		return changefeed.Change{}
	}
}

func waitChannelClosed(t *testing.T, ch <-chan changefeed.Change) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("listener channel was not closed")
		}
	}
}

func TestPostgres_Integration(t *testing.T) {
	env := testutil.SetupTestDB(t)

	t.Run("delivers published changes to every listener", func(t *testing.T) {
		feed := changefeed.NewPostgres(env.DB.Conn(), env.DatabaseURL)
		t.Cleanup(func() { feed.Close() })

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		first, err := feed.Listen(ctx)
		require.NoError(t, err)
		second, err := feed.Listen(ctx)
		require.NoError(t, err)

		want := changefeed.Change{UserID: 42, Collection: changefeed.CollectionFocusSessions}
		require.NoError(t, feed.Publish(ctx, want))

		assert.Equal(t, want, receiveChange(t, first))
		assert.Equal(t, want, receiveChange(t, second))
	})

	t.Run("reaches listeners of another instance", func(t *testing.T) {
		publisher := changefeed.NewPostgres(env.DB.Conn(), env.DatabaseURL)
		subscriber := changefeed.NewPostgres(env.DB.Conn(), env.DatabaseURL)
		t.Cleanup(func() {
			publisher.Close()
			subscriber.Close()
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch, err := subscriber.Listen(ctx)
		require.NoError(t, err)

		want := changefeed.Change{UserID: 7, Collection: changefeed.CollectionAuth}
		require.NoError(t, publisher.Publish(ctx, want))
		assert.Equal(t, want, receiveChange(t, ch))
	})

	t.Run("skips malformed notifications", func(t *testing.T) {
		feed := changefeed.NewPostgres(env.DB.Conn(), env.DatabaseURL)
		t.Cleanup(func() { feed.Close() })

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch, err := feed.Listen(ctx)
		require.NoError(t, err)

		_, err = env.DB.Conn().ExecContext(ctx, `SELECT pg_notify($1, $2)`, changefeed.PostgresChannel, "not json")
		require.NoError(t, err)

		want := changefeed.Change{UserID: 3, Collection: changefeed.CollectionBlocks}
		require.NoError(t, feed.Publish(ctx, want))
		assert.Equal(t, want, receiveChange(t, ch))
	})

	t.Run("keeps delivering after the listener connection drops", func(t *testing.T) {
		feed := changefeed.NewPostgres(env.DB.Conn(), env.DatabaseURL)
		t.Cleanup(func() { feed.Close() })

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch, err := feed.Listen(ctx)
		require.NoError(t, err)

		var terminated int
		err = env.DB.Conn().QueryRowContext(ctx, `
			SELECT count(pg_terminate_backend(pid))
			FROM pg_stat_activity
			WHERE pid <> pg_backend_pid() AND query ILIKE 'LISTEN%'`).Scan(&terminated)
		require.NoError(t, err)
		require.Positive(t, terminated, "no listener connection found")

		// Notifications sent while disconnected are lost, so publish until
		// the reconnected listener picks one up.
		want := changefeed.Change{UserID: 11, Collection: changefeed.CollectionFocusSessions}
		deadline := time.After(30 * time.Second)
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			require.NoError(t, feed.Publish(ctx, want))
			select {
			case got, ok := <-ch:
				require.True(t, ok, "listener channel closed after reconnect")
				assert.Equal(t, want, got)
				return
			case <-ticker.C:
			case <-deadline:
				t.Fatal("no change delivered after reconnect")
			}
		}
	})

	t.Run("listener closes with its context", func(t *testing.T) {
		feed := changefeed.NewPostgres(env.DB.Conn(), env.DatabaseURL)
		t.Cleanup(func() { feed.Close() })

		ctx, cancel := context.WithCancel(context.Background())
		ch, err := feed.Listen(ctx)
		require.NoError(t, err)

		cancel()
		waitChannelClosed(t, ch)
	})

	t.Run("close ends listeners and refuses new work", func(t *testing.T) {
		feed := changefeed.NewPostgres(env.DB.Conn(), env.DatabaseURL)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ch, err := feed.Listen(ctx)
		require.NoError(t, err)

		require.NoError(t, feed.Close())
		waitChannelClosed(t, ch)

		err = feed.Publish(ctx, changefeed.Change{UserID: 1, Collection: changefeed.CollectionAuth})
		assert.True(t, errors.Is(err, changefeed.ErrClosed), "Publish after Close = %v", err)
		_, err = feed.Listen(ctx)
		assert.True(t, errors.Is(err, changefeed.ErrClosed), "Listen after Close = %v", err)

		// Close is idempotent and leaves the shared pool usable.
		require.NoError(t, feed.Close())
		require.NoError(t, env.DB.Conn().PingContext(ctx))
	})

	t.Run("built by New", func(t *testing.T) {
		ctx := context.Background()
		feed, err := changefeed.New(ctx, changefeed.Config{
			Kind:        changefeed.KindPostgres,
			DatabaseURL: env.DatabaseURL,
			DB:          env.DB.Conn(),
		})
		require.NoError(t, err)
		t.Cleanup(func() { feed.Close() })
		_, ok := feed.(*changefeed.Postgres)
		assert.True(t, ok, "New returned %T", feed)
	})
}

func TestNew_PostgresRequiresConnection(t *testing.T) {
	_, err := changefeed.New(context.Background(), changefeed.Config{Kind: changefeed.KindPostgres})
	assert.Error(t, err)
}
