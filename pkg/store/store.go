// Package store persists change requests. Implementations must return deep
// copies and enforce optimistic concurrency on Update.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

var (
	ErrAlreadyExists   = errors.New("change request already exists")
	ErrVersionConflict = errors.New("change request was modified concurrently")
)

// IDPrefix and IDDigits define the change request identifier format.
const (
	IDPrefix = "CHG"
	IDDigits = 5
)

// FormatID renders a sequence number as a change request id.
func FormatID(seq int) string {
	return fmt.Sprintf("%s%0*d", IDPrefix, IDDigits, seq)
}

// ParseSequence extracts the numeric suffix of a change request id.
func ParseSequence(id string) (int, bool) {
	if !strings.HasPrefix(id, IDPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(id[len(IDPrefix):])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ListQuery narrows List. Zero values match everything.
type ListQuery struct {
	Statuses  []contracts.ChangeStatus
	CreatedBy string
}

func (q ListQuery) matches(cr *contracts.ChangeRequest) bool {
	if q.CreatedBy != "" && cr.CreatedBy != q.CreatedBy {
		return false
	}
	if len(q.Statuses) == 0 {
		return true
	}
	for _, s := range q.Statuses {
		if cr.Status == s {
			return true
		}
	}
	return false
}

// ChangeRequestRepository is the persistence boundary of the engine.
type ChangeRequestRepository interface {
	// Get returns the record with exactly this id, or an error matching
	// contracts.ErrNotFound.
	Get(ctx context.Context, id string) (*contracts.ChangeRequest, error)
	// FindByIDFragment returns the ids containing fragment, compared
	// case-insensitively, in ascending order.
	FindByIDFragment(ctx context.Context, fragment string) ([]string, error)
	List(ctx context.Context, q ListQuery) ([]*contracts.ChangeRequest, error)
	// MaxSequence returns the highest numeric id suffix in use, 0 when empty.
	MaxSequence(ctx context.Context) (int, error)
	// Insert stores a new record with Version 1.
	Insert(ctx context.Context, cr *contracts.ChangeRequest) error
	// Update replaces the stored record if its version still equals
	// expectedVersion, and bumps the version on cr.
	Update(ctx context.Context, cr *contracts.ChangeRequest, expectedVersion int64) error
}

func notFound(id string) error {
	return fmt.Errorf("change request %q: %w", id, contracts.ErrNotFound)
}
