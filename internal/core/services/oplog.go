package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
	"github.com/custodia-labs/ledgersync/internal/core/ports/driven"
	"github.com/custodia-labs/ledgersync/internal/logger"
)

// OperationLogger appends audit entries. Logging never fails the operation
// being logged: store errors are reported and swallowed.
type OperationLogger struct {
	store driven.OperationLogStore
	now   func() time.Time
}

// NewOperationLogger creates an OperationLogger. A nil store discards entries.
func NewOperationLogger(store driven.OperationLogStore) *OperationLogger {
	return &OperationLogger{store: store, now: time.Now}
}

// Record writes one entry. label is coerced onto the operation enum.
func (l *OperationLogger) Record(
	ctx context.Context,
	userID, label, entityType, recordID string,
	status domain.OperationStatus,
	details map[string]any,
) domain.OperationLogEntry {
	entry := domain.OperationLogEntry{
		ID:         uuid.NewString(),
		UserID:     userID,
		Kind:       domain.CoerceOperationKind(label),
		EntityType: entityType,
		RecordID:   recordID,
		Status:     status,
		Details:    details,
		CreatedAt:  l.now().UTC(),
	}
	if l.store == nil {
		return entry
	}

	// The entry describes a call that already resolved; a cancelled caller
	// context must not lose it.
	if err := l.store.Append(context.WithoutCancel(ctx), entry); err != nil {
		logger.L().Warn("operation log append failed",
			zap.String("user_id", userID),
			zap.String("operation_kind", string(entry.Kind)),
			zap.String("entity_type", entityType),
			zap.Error(err))
	}
	return entry
}

// RecordResult writes a success entry when err is nil and an error entry otherwise.
func (l *OperationLogger) RecordResult(
	ctx context.Context,
	userID, label, entityType, recordID string,
	details map[string]any,
	err error,
) domain.OperationLogEntry {
	if err == nil {
		return l.Record(ctx, userID, label, entityType, recordID, domain.OpStatusSuccess, details)
	}
	if details == nil {
		details = make(map[string]any, 2)
	}
	details["error"] = domain.UserMessage(err)
	details["kind"] = string(domain.Classify(err))
	return l.Record(ctx, userID, label, entityType, recordID, domain.OpStatusError, details)
}
