package services

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driving"
	"github.com/custodia-labs/ledgersync/internal/logger"
)

// BulkDeleter soft-deletes a batch of records one at a time.
type BulkDeleter struct {
	engine *EntitySync
}

// NewBulkDeleter creates a BulkDeleter over the sync engine.
func NewBulkDeleter(engine *EntitySync) *BulkDeleter {
	return &BulkDeleter{engine: engine}
}

// DeleteMany starts a batch and returns immediately. Items are processed
// in order; a failed item is recorded and the batch moves on. Once every id
// has been attempted the entity type is fetched again.
func (d *BulkDeleter) DeleteMany(
	ctx context.Context, userID, entityType string, ids []string,
) (driving.DeleteBatch, error) {
	if userID == "" {
		return nil, domain.NewSyncError(domain.ErrNotAuthenticated, "", nil)
	}
	if _, err := d.engine.lookup(entityType); err != nil {
		return nil, err
	}

	b := newDeleteBatch(entityType, len(ids))
	go d.run(ctx, b, userID, entityType, append([]string(nil), ids...))
	return b, nil
}

func (d *BulkDeleter) run(ctx context.Context, b *deleteBatch, userID, entityType string, ids []string) {
	log := logger.L().With(zap.String("batch_id", b.id), zap.String("entity_type", entityType))
	log.Debug("bulk delete started", zap.Int("total", len(ids)))

	for _, id := range ids {
		result := domain.ItemResult{ID: id, Status: domain.ItemSuccess}

		err := ctx.Err()
		if err == nil {
			_, err = d.engine.Delete(ctx, userID, entityType, id)
		}
		if err != nil {
			result.Status = domain.ItemFailed
			result.Error = domain.UserMessage(err)
			result.Kind = domain.Classify(err)
		}
		b.record(result)
	}

	b.complete()

	// Re-fetch so deleted records are not shown as still present.
	records, err := d.engine.Fetch(context.WithoutCancel(ctx), userID, entityType, nil)
	if err != nil {
		log.Warn("re-fetch after bulk delete failed", zap.Error(err))
	}
	b.finish(records, err)

	final := b.Snapshot()
	log.Debug("bulk delete finished",
		zap.Int("succeeded", final.SuccessCount),
		zap.Int("failed", final.FailedCount))
}

// deleteBatch implements driving.DeleteBatch.
type deleteBatch struct {
	id      string
	updates chan domain.DeleteBatchProgress
	done    chan struct{}

	mu       sync.Mutex
	progress domain.DeleteBatchProgress
	records  []domain.Record
}

var _ driving.DeleteBatch = (*deleteBatch)(nil)

func newDeleteBatch(entityType string, total int) *deleteBatch {
	id := uuid.NewString()
	return &deleteBatch{
		id: id,
		// One slot per item plus the final snapshot; sends never block.
		updates: make(chan domain.DeleteBatchProgress, total+1),
		done:    make(chan struct{}),
		progress: domain.DeleteBatchProgress{
			BatchID:    id,
			EntityType: entityType,
			Total:      total,
			Results:    make([]domain.ItemResult, 0, total),
			State:      domain.BatchRunning,
		},
	}
}

func (b *deleteBatch) ID() string { return b.id }

func (b *deleteBatch) Updates() <-chan domain.DeleteBatchProgress { return b.updates }

func (b *deleteBatch) Done() <-chan struct{} { return b.done }

func (b *deleteBatch) Wait() domain.DeleteBatchProgress {
	<-b.done
	return b.Snapshot()
}

func (b *deleteBatch) Snapshot() domain.DeleteBatchProgress {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.progress.Clone()
}

func (b *deleteBatch) Records() []domain.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.records
}

// record appends r and publishes the new progress. The counters and the
// result list change under one lock.
func (b *deleteBatch) record(r domain.ItemResult) {
	b.mu.Lock()
	b.progress.Record(r)
	snap := b.progress.Clone()
	b.mu.Unlock()

	b.updates <- snap
}

func (b *deleteBatch) complete() {
	b.mu.Lock()
	b.progress.State = domain.BatchCompleted
	b.mu.Unlock()
}

func (b *deleteBatch) finish(records []domain.Record, refreshErr error) {
	b.mu.Lock()
	b.records = records
	if refreshErr != nil {
		b.progress.RefreshError = domain.UserMessage(refreshErr)
	}
	snap := b.progress.Clone()
	b.mu.Unlock()

	b.updates <- snap
	close(b.updates)
	close(b.done)
}
