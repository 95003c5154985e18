package audit

import (
	"context"
	"fmt"
)

// TimelineRepository lists stored entries.
type TimelineRepository interface {
	ListAuditEntries(ctx context.Context, f TimelineFilters, limit, offset int) ([]Entry, error)
}

// Service serves audit timeline reads.
type Service struct {
	repo TimelineRepository
}

// NewService builds the timeline service.
func NewService(repo TimelineRepository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of entries with paging info.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	if filters.CompanyID == 0 {
		return Result{}, fmt.Errorf("audit: company required")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	rows, err := s.repo.ListAuditEntries(ctx, filters, pageSize+1, (page-1)*pageSize)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every entry matching filters.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]Entry, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	if filters.CompanyID == 0 {
		return nil, fmt.Errorf("audit: company required")
	}
	return s.repo.ListAuditEntries(ctx, filters, 0, 0)
}
