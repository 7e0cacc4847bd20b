package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medicore/hms/internal/audit"
	"github.com/medicore/hms/internal/platform/httpx"
)

type memoryAudit struct {
	entries []audit.Entry
	cutoff  time.Time
}

func (m *memoryAudit) Insert(_ context.Context, entry audit.Entry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryAudit) Purge(_ context.Context, cutoff time.Time) (int64, error) {
	m.cutoff = cutoff
	return 0, nil
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestAuditHandlersProcessTasks(t *testing.T) {
	store := &memoryAudit{}
	handlers := AuditHandlers(store, 24*time.Hour, nil)
	byType := map[string]asynq.HandlerFunc{}
	for _, h := range handlers {
		byType[h.Type] = h.Handler
	}
	require.Contains(t, byType, audit.TaskRecord)
	require.Contains(t, byType, audit.TaskPurge)

	task, err := audit.NewRecordTask(audit.Entry{Action: "role.created", Module: "rbac", Severity: audit.SeverityInfo})
	require.NoError(t, err)
	require.NoError(t, byType[audit.TaskRecord](context.Background(), task))
	require.Len(t, store.entries, 1)
	assert.Equal(t, "role.created", store.entries[0].Action)

	require.NoError(t, byType[audit.TaskPurge](context.Background(), audit.NewPurgeTask()))
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), store.cutoff, time.Minute)
}

func TestAuditCronTargetsAuditQueue(t *testing.T) {
	cron := AuditCron()
	require.Len(t, cron, 1)
	assert.Equal(t, AuditPurgeSpec, cron[0].Spec)
	assert.Equal(t, audit.TaskPurge, cron[0].Task.Type())
}

func health(t *testing.T, h *Handler) (int, httpx.Envelope) {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	var env httpx.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec.Code, env
}

func TestHealthReportsQueueDepth(t *testing.T) {
	code, env := health(t, NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: audit.QueueAudit, Pending: 4, Retry: 1}}, nil, nil))
	require.Equal(t, http.StatusOK, code)
	data := env.Data.(map[string]any)
	assert.EqualValues(t, 4, data["pending"])
	assert.EqualValues(t, 1, data["retry"])
	assert.Equal(t, true, data["available"])

	code, _ = health(t, NewHandler(stubInspector{err: errors.New("redis down")}, nil, nil))
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, env = health(t, NewHandler(stubInspector{err: asynq.ErrQueueNotFound}, nil, nil))
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, env.Data.(map[string]any)["pending"])
}

func TestHealthGuard(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
	code, _ := health(t, NewHandler(nil, nil, deny))
	assert.Equal(t, http.StatusForbidden, code)
}
