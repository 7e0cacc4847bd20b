package jobs

import (
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/medicore/hms/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// AuditPurgeSpec runs the audit retention purge nightly.
	AuditPurgeSpec = "30 2 * * *"
)

// AuditStore is the persistence the audit tasks need.
type AuditStore interface {
	audit.Writer
	audit.Purger
}

// AuditHandlers returns the worker handlers for the audit queue.
func AuditHandlers(store AuditStore, retention time.Duration, logger *slog.Logger) []TaskHandler {
	return []TaskHandler{
		{Type: audit.TaskRecord, Handler: audit.NewRecordHandler(store)},
		{Type: audit.TaskPurge, Handler: audit.NewPurgeHandler(store, retention, logger)},
	}
}

// AuditCron schedules the retention purge.
func AuditCron() []CronRegistration {
	return []CronRegistration{{
		Spec:    AuditPurgeSpec,
		Task:    audit.NewPurgeTask(),
		Options: []asynq.Option{asynq.Queue(audit.QueueAudit), asynq.Unique(time.Hour)},
	}}
}
