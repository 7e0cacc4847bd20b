package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/medicore/hms/internal/platform/httpx"
	"github.com/medicore/hms/internal/shared"
)

// Searcher reads audit entries.
type Searcher interface {
	Search(ctx context.Context, filter Filter, limit, offset int) ([]Entry, int, error)
}

// Service serves read-only audit queries.
type Service struct {
	repo Searcher
}

// NewService constructs a Service.
func NewService(repo Searcher) *Service {
	return &Service{repo: repo}
}

// Search filters and paginates the audit trail. Severity, module and free-text
// criteria combine with AND; results are ordered newest first.
func (s *Service) Search(ctx context.Context, filter Filter) (Page, error) {
	if s.repo == nil {
		return Page{}, fmt.Errorf("audit: repository not configured")
	}
	filter.Severity = Severity(strings.ToLower(strings.TrimSpace(string(filter.Severity))))
	filter.Module = strings.TrimSpace(filter.Module)
	filter.Search = strings.TrimSpace(filter.Search)
	if filter.Severity != "" && !filter.Severity.Valid() {
		errs := httpx.FieldErrors{}
		errs.Add("severity", "The selected severity is invalid.")
		return Page{}, errs
	}
	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	offset := (page - 1) * perPage

	entries, total, err := s.repo.Search(ctx, filter, perPage, offset)
	if err != nil {
		return Page{}, fmt.Errorf("audit: search: %w", err)
	}
	return Page{Entries: entries, Pagination: shared.NewPagination(page, perPage, total)}, nil
}
