package changes

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"github.com/Mindburn-Labs/changegate/pkg/contracts"
	"github.com/Mindburn-Labs/changegate/pkg/store"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// List returns one page of the records matching f, newest first. page is
// 1-based; a zero page or limit selects the default.
func (s *Service) List(ctx context.Context, f Filter, page, limit int) (p *Page, err error) {
	ctx, done := s.track(ctx, "list")
	defer func() { done(err) }()

	switch {
	case page < 0:
		return nil, &contracts.ValidationError{Field: "page", Reason: "must be at least 1"}
	case page == 0:
		page = 1
	}
	switch {
	case limit < 0:
		return nil, &contracts.ValidationError{Field: "limit", Reason: "must be at least 1"}
	case limit == 0:
		limit = DefaultPageLimit
	case limit > MaxPageLimit:
		limit = MaxPageLimit
	}
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, &contracts.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", st)}
		}
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, &contracts.ValidationError{Field: "to", Reason: "must not be before from"}
	}

	all, err := s.repo.List(ctx, store.ListQuery{Statuses: f.Statuses, CreatedBy: f.CreatedBy})
	if err != nil {
		return nil, fmt.Errorf("list change requests: %w", err)
	}

	matcher := newMatcher(f)
	filtered := all[:0]
	for _, cr := range all {
		if matcher.match(cr) {
			filtered = append(filtered, cr)
		}
	}
	slices.SortStableFunc(filtered, func(a, b *contracts.ChangeRequest) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	p = &Page{Total: len(filtered), Page: page, Limit: limit, Items: []*contracts.ChangeRequest{}}
	p.TotalPages = (p.Total + limit - 1) / limit
	start := (page - 1) * limit
	if start < p.Total {
		end := min(start+limit, p.Total)
		p.Items = filtered[start:end]
	}
	return p, nil
}

// matcher applies the filters the repository does not.
type matcher struct {
	f      Filter
	folder cases.Caser
	needle string
}

func newMatcher(f Filter) *matcher {
	m := &matcher{f: f, folder: cases.Fold()}
	if q := strings.TrimSpace(f.Search); q != "" {
		m.needle = m.folder.String(q)
	}
	return m
}

func (m *matcher) match(cr *contracts.ChangeRequest) bool {
	if m.f.AssignedTo != "" && (cr.AssignedTo == nil || *cr.AssignedTo != m.f.AssignedTo) {
		return false
	}
	// Overlap of [StartDate, EndDate] with [From, To].
	if m.f.To != nil && cr.StartDate.After(*m.f.To) {
		return false
	}
	if m.f.From != nil && cr.EndDate.Before(*m.f.From) {
		return false
	}
	if m.needle == "" {
		return true
	}
	for _, field := range []string{cr.ID, cr.Title, cr.Description} {
		if strings.Contains(m.folder.String(field), m.needle) {
			return true
		}
	}
	return false
}
