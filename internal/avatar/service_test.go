package avatar

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls atomic.Int64
	fetch func(uid int64) (string, error)
}

func (f *fakeFetcher) FetchAvatarURL(_ context.Context, uid int64) (string, error) {
	f.calls.Add(1)
	return f.fetch(uid)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "avatars.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAvatarURLFetchesAndCaches(t *testing.T) {
	fetcher := &fakeFetcher{fetch: func(uid int64) (string, error) {
		return fmt.Sprintf("https://example.com/%d.png", uid), nil
	}}
	svc, err := NewService(Config{}, newTestStore(t), fetcher)
	require.NoError(t, err)
	defer svc.Close()

	url := svc.AvatarURL(context.Background(), 42)
	require.Equal(t, "https://example.com/42.png", url)

	// Second lookup hits the memory tier.
	url = svc.AvatarURL(context.Background(), 42)
	require.Equal(t, "https://example.com/42.png", url)
	require.EqualValues(t, 1, fetcher.calls.Load())
}

func TestAvatarURLServedFromStore(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put(context.Background(), 42, "https://example.com/stored.png"))

	fetcher := &fakeFetcher{fetch: func(int64) (string, error) {
		return "", fmt.Errorf("should not be called")
	}}
	svc, err := NewService(Config{}, store, fetcher)
	require.NoError(t, err)
	defer svc.Close()

	url := svc.AvatarURL(context.Background(), 42)
	require.Equal(t, "https://example.com/stored.png", url)
	require.EqualValues(t, 0, fetcher.calls.Load())
}

func TestAvatarURLDegradesToDefault(t *testing.T) {
	fetcher := &fakeFetcher{fetch: func(int64) (string, error) {
		return "", fmt.Errorf("upstream broken")
	}}
	svc, err := NewService(Config{}, nil, fetcher)
	require.NoError(t, err)
	defer svc.Close()

	require.Equal(t, DefaultAvatarURL, svc.AvatarURL(context.Background(), 42))

	// Failures are not cached; the next lookup retries.
	require.Equal(t, DefaultAvatarURL, svc.AvatarURL(context.Background(), 42))
	require.EqualValues(t, 2, fetcher.calls.Load())
}

func TestAvatarURLZeroUID(t *testing.T) {
	fetcher := &fakeFetcher{fetch: func(int64) (string, error) {
		return "", fmt.Errorf("should not be called")
	}}
	svc, err := NewService(Config{}, nil, fetcher)
	require.NoError(t, err)
	defer svc.Close()

	require.Equal(t, DefaultAvatarURL, svc.AvatarURL(context.Background(), 0))
	require.EqualValues(t, 0, fetcher.calls.Load())
}

func TestBanSuspendsFetching(t *testing.T) {
	fetcher := &fakeFetcher{fetch: func(int64) (string, error) {
		return "", ErrBanned
	}}
	svc, err := NewService(Config{BanWindow: time.Hour}, nil, fetcher)
	require.NoError(t, err)
	defer svc.Close()

	require.Equal(t, DefaultAvatarURL, svc.AvatarURL(context.Background(), 1))
	require.EqualValues(t, 1, fetcher.calls.Load())

	// Inside the ban window every lookup short-circuits to the default.
	require.Equal(t, DefaultAvatarURL, svc.AvatarURL(context.Background(), 2))
	require.EqualValues(t, 1, fetcher.calls.Load())
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "avatars.db")

	store, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), 7, "https://example.com/7.png"))
	require.NoError(t, store.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	url, ok, err := reopened.Get(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "https://example.com/7.png", url)
}

func TestStoreUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, 7, "old"))
	require.NoError(t, store.Put(ctx, 7, "new"))

	url, ok, err := store.Get(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new", url)
}
