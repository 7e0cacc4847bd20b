package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const writeTimeout = 3 * time.Second

// Sink receives audit entries. Recording is fire-and-forget: implementations
// never report failure to the caller.
type Sink interface {
	Record(ctx context.Context, entry Entry)
}

// Writer persists a single entry.
type Writer interface {
	Insert(ctx context.Context, entry Entry) error
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DirectSink writes entries synchronously.
type DirectSink struct {
	writer Writer
	logger *slog.Logger
	now    func() time.Time
}

// NewDirectSink builds a DirectSink.
func NewDirectSink(writer Writer, logger *slog.Logger) *DirectSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectSink{writer: writer, logger: logger, now: time.Now}
}

// Record implements Sink.
func (s *DirectSink) Record(ctx context.Context, entry Entry) {
	if s == nil || s.writer == nil {
		return
	}
	entry = normalize(ctx, entry, s.now)
	// The triggering request may already be finishing; the write must not be cut short by it.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := s.writer.Insert(writeCtx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", entry.Action), slog.Any("error", err))
	}
}

// AsyncSink hands entries to the background worker.
type AsyncSink struct {
	queue  Enqueuer
	logger *slog.Logger
	now    func() time.Time
}

// NewAsyncSink builds an AsyncSink.
func NewAsyncSink(queue Enqueuer, logger *slog.Logger) *AsyncSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncSink{queue: queue, logger: logger, now: time.Now}
}

// Record implements Sink.
func (s *AsyncSink) Record(ctx context.Context, entry Entry) {
	if s == nil || s.queue == nil {
		return
	}
	entry = normalize(ctx, entry, s.now)
	task, err := NewRecordTask(entry)
	if err != nil {
		s.logger.Warn("audit encode failed", slog.String("action", entry.Action), slog.Any("error", err))
		return
	}
	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if _, err := s.queue.EnqueueContext(enqueueCtx, task, asynq.Queue(QueueAudit)); err != nil {
		s.logger.Warn("audit enqueue failed", slog.String("action", entry.Action), slog.Any("error", err))
	}
}

// Discard drops every entry.
type Discard struct{}

// Record implements Sink.
func (Discard) Record(context.Context, Entry) {}

func normalize(ctx context.Context, entry Entry, now func() time.Time) Entry {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = now().UTC()
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}
	if entry.RequestID == "" {
		entry.RequestID = middleware.GetReqID(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = uuid.NewString()
	}
	return entry
}
