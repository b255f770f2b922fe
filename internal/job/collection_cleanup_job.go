package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const collectionCleanupBatch = 100

type IdleCollectionLister interface {
	ListIdleCollections(ctx context.Context, cutoff int64, limit int) ([]string, error)
}

type CollectionDeleter interface {
	DeleteCollections(ctx context.Context, collections []string) error
}

type SessionRemover interface {
	Remove(id string)
}

// CollectionCleanupJob deletes knowledge bases whose newest source is older
// than the session lifetime. The owning session cookie has expired by then.
type CollectionCleanupJob struct {
	sources  IdleCollectionLister
	chunks   CollectionDeleter
	sessions SessionRemover
	idle     time.Duration
	now      func() time.Time
}

func NewCollectionCleanupJob(sources IdleCollectionLister, chunks CollectionDeleter, sessions SessionRemover, idle time.Duration) *CollectionCleanupJob {
	return &CollectionCleanupJob{sources: sources, chunks: chunks, sessions: sessions, idle: idle, now: time.Now}
}

func (j *CollectionCleanupJob) Name() string {
	return "collection_cleanup"
}

func (j *CollectionCleanupJob) Run(ctx context.Context) error {
	if j.sources == nil || j.chunks == nil {
		return nil
	}
	idle := j.idle
	if idle <= 0 {
		idle = 24 * time.Hour
	}
	cutoff := j.now().Add(-idle).Unix()
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		collections, err := j.sources.ListIdleCollections(ctx, cutoff, collectionCleanupBatch)
		if err != nil {
			return err
		}
		if len(collections) == 0 {
			break
		}
		if err := j.chunks.DeleteCollections(ctx, collections); err != nil {
			return err
		}
		if j.sessions != nil {
			for _, id := range collections {
				j.sessions.Remove(id)
			}
		}
		total += len(collections)
		if len(collections) < collectionCleanupBatch {
			break
		}
	}
	if total > 0 {
		logutil.GetLogger(ctx).Info("idle collections removed", zap.Int("count", total), zap.Int64("cutoff", cutoff))
	}
	return nil
}
