package job

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeCacheRepo struct {
	cutoff int64
	err    error
}

func (f *fakeCacheRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	f.cutoff = cutoff
	return 3, f.err
}

func TestEmbeddingCacheCleanupCutoff(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	repo := &fakeCacheRepo{}
	job := NewEmbeddingCacheCleanupJob(repo, 7)
	job.now = func() time.Time { return now }
	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, now.Unix()-7*86400, repo.cutoff)

	job = NewEmbeddingCacheCleanupJob(repo, 0)
	job.now = func() time.Time { return now }
	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, now.Unix()-30*86400, repo.cutoff)

	repo.err = errors.New("db down")
	require.Error(t, job.Run(context.Background()))
	require.NoError(t, NewEmbeddingCacheCleanupJob(nil, 1).Run(context.Background()))
}

type fakeCollections struct {
	idle    []string
	cutoff  int64
	deleted []string
	removed []string
	failDel bool
}

func (f *fakeCollections) ListIdleCollections(ctx context.Context, cutoff int64, limit int) ([]string, error) {
	f.cutoff = cutoff
	n := limit
	if n > len(f.idle) {
		n = len(f.idle)
	}
	return append([]string{}, f.idle[:n]...), nil
}

func (f *fakeCollections) DeleteCollections(ctx context.Context, collections []string) error {
	if f.failDel {
		return errors.New("delete failed")
	}
	f.deleted = append(f.deleted, collections...)
	f.idle = f.idle[len(collections):]
	return nil
}

func (f *fakeCollections) Remove(id string) {
	f.removed = append(f.removed, id)
}

func TestCollectionCleanupDeletesInBatches(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := &fakeCollections{}
	for i := 0; i < collectionCleanupBatch+5; i++ {
		store.idle = append(store.idle, fmt.Sprintf("session-%d", i))
	}
	job := NewCollectionCleanupJob(store, store, store, 2*time.Hour)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, now.Add(-2*time.Hour).Unix(), store.cutoff)
	require.Len(t, store.deleted, collectionCleanupBatch+5)
	require.Equal(t, store.deleted, store.removed)
	require.Empty(t, store.idle)
}

func TestCollectionCleanupErrors(t *testing.T) {
	store := &fakeCollections{idle: []string{"a"}, failDel: true}
	job := NewCollectionCleanupJob(store, store, nil, time.Hour)
	require.Error(t, job.Run(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store.failDel = false
	require.ErrorIs(t, job.Run(ctx), context.Canceled)
	require.Empty(t, store.deleted)

	require.NoError(t, NewCollectionCleanupJob(nil, nil, nil, time.Hour).Run(context.Background()))
}
