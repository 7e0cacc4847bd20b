package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueAudit is the queue carrying audit work.
	QueueAudit = "audit"
	// TaskRecord persists one entry.
	TaskRecord = "audit:record"
	// TaskPurge deletes entries past the retention window.
	TaskPurge = "audit:purge"
)

// NewRecordTask wraps entry into an asynq task.
func NewRecordTask(entry Entry) (*asynq.Task, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecord, payload, asynq.MaxRetry(5)), nil
}

// NewRecordHandler returns the worker handler for TaskRecord.
func NewRecordHandler(writer Writer) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var entry Entry
		if err := json.Unmarshal(t.Payload(), &entry); err != nil {
			return fmt.Errorf("audit: decode task: %v: %w", err, asynq.SkipRetry)
		}
		return writer.Insert(ctx, entry)
	}
}

// NewPurgeTask builds the retention task.
func NewPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskPurge, nil, asynq.MaxRetry(1))
}

// Purger deletes old entries.
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewPurgeHandler returns the worker handler for TaskPurge.
func NewPurgeHandler(purger Purger, retention time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, _ *asynq.Task) error {
		if retention <= 0 {
			return nil
		}
		cutoff := time.Now().UTC().Add(-retention)
		removed, err := purger.Purge(ctx, cutoff)
		if err != nil {
			return err
		}
		logger.Info("audit purge", slog.Int64("removed", removed), slog.Time("cutoff", cutoff))
		return nil
	}
}
