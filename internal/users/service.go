package users

import (
	"context"
	"strings"

	"github.com/medicore/hms/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListMembers(ctx context.Context, filter ListFilter, limit, offset int) ([]Member, int, error)
}

// Service handles user directory queries.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// List returns one page of the directory.
func (s *Service) List(ctx context.Context, filter ListFilter) (Page, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	pagination := shared.NewPagination(filter.Page, filter.PerPage, 0)

	members, total, err := s.repo.ListMembers(ctx, filter, pagination.PerPage, pagination.Offset())
	if err != nil {
		return Page{}, err
	}
	if members == nil {
		members = []Member{}
	}
	return Page{Members: members, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)}, nil
}
