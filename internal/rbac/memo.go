package rbac

import (
	"context"
	"sync"
)

type memoKey struct{}

type subjectKey struct{}

// requestMemo holds effective sets resolved during one request.
type requestMemo struct {
	mu   sync.Mutex
	sets map[int64]permissionSet
}

// WithRequestMemo returns a context whose permission lookups are memoized
// until the context is discarded.
func WithRequestMemo(ctx context.Context) context.Context {
	if memoFromContext(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, memoKey{}, &requestMemo{sets: make(map[int64]permissionSet)})
}

func memoFromContext(ctx context.Context) *requestMemo {
	memo, _ := ctx.Value(memoKey{}).(*requestMemo)
	return memo
}

func (m *requestMemo) get(userID int64) (permissionSet, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[userID]
	return set, ok
}

func (m *requestMemo) put(userID int64, set permissionSet) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.sets[userID] = set
	m.mu.Unlock()
}

func (m *requestMemo) forget(userID int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.sets, userID)
	m.mu.Unlock()
}

func (m *requestMemo) reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.sets = make(map[int64]permissionSet)
	m.mu.Unlock()
}

// ContextWithSubject stores the acting subject.
func ContextWithSubject(ctx context.Context, subject Subject) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext returns the acting subject loaded by LoadSubject.
func SubjectFromContext(ctx context.Context) (Subject, bool) {
	subject, ok := ctx.Value(subjectKey{}).(Subject)
	return subject, ok
}
