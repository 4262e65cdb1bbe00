package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

var created = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

func sample(seq int, status contracts.ChangeStatus, creator string) *contracts.ChangeRequest {
	return &contracts.ChangeRequest{
		ID:            FormatID(seq),
		Title:         "change",
		Category:      contracts.CategoryNormal,
		Priority:      contracts.PriorityP3,
		StartDate:     created.Add(24 * time.Hour),
		EndDate:       created.Add(26 * time.Hour),
		Status:        status,
		CreatedBy:     creator,
		ApproverRoles: []string{"it"},
		CreatedAt:     created.Add(time.Duration(seq) * time.Minute),
		UpdatedAt:     created.Add(time.Duration(seq) * time.Minute),
	}
}

// exerciseRepository runs the behaviour every repository implementation shares.
func exerciseRepository(t *testing.T, repo ChangeRequestRepository) {
	t.Helper()
	ctx := context.Background()

	highest, err := repo.MaxSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, highest)

	_, err = repo.Get(ctx, "CHG00001")
	require.ErrorIs(t, err, contracts.ErrNotFound)

	for _, cr := range []*contracts.ChangeRequest{
		sample(1, contracts.StatusDraft, "alice"),
		sample(2, contracts.StatusSubmitted, "bob"),
		sample(10, contracts.StatusSubmitted, "alice"),
	} {
		require.NoError(t, repo.Insert(ctx, cr))
		assert.Equal(t, int64(1), cr.Version)
	}
	err = repo.Insert(ctx, sample(2, contracts.StatusDraft, "carol"))
	require.ErrorIs(t, err, ErrAlreadyExists)

	highest, err = repo.MaxSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, highest)

	got, err := repo.Get(ctx, "CHG00002")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.CreatedBy)
	assert.Equal(t, []string{"it"}, got.ApproverRoles)
	assert.True(t, got.StartDate.Equal(created.Add(24*time.Hour)))

	ids, err := repo.FindByIDFragment(ctx, "chg0001")
	require.NoError(t, err)
	assert.Equal(t, []string{"CHG00010"}, ids)
	ids, err = repo.FindByIDFragment(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"CHG00001", "CHG00010"}, ids)
	ids, err = repo.FindByIDFragment(ctx, "%")
	require.NoError(t, err)
	assert.Empty(t, ids)

	list, err := repo.List(ctx, ListQuery{Statuses: []contracts.ChangeStatus{contracts.StatusSubmitted}})
	require.NoError(t, err)
	require.Len(t, list, 2)
	list, err = repo.List(ctx, ListQuery{Statuses: []contracts.ChangeStatus{contracts.StatusSubmitted}, CreatedBy: "alice"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "CHG00010", list[0].ID)
	list, err = repo.List(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Len(t, list, 3)

	// Optimistic concurrency: two writers read version 1, only one wins.
	first, err := repo.Get(ctx, "CHG00001")
	require.NoError(t, err)
	second, err := repo.Get(ctx, "CHG00001")
	require.NoError(t, err)

	first.Status = contracts.StatusSubmitted
	require.NoError(t, repo.Update(ctx, first, 1))
	assert.Equal(t, int64(2), first.Version)

	second.Status = contracts.StatusCancelled
	err = repo.Update(ctx, second, 1)
	require.ErrorIs(t, err, ErrVersionConflict)

	stored, err := repo.Get(ctx, "CHG00001")
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusSubmitted, stored.Status)
	assert.Equal(t, int64(2), stored.Version)

	err = repo.Update(ctx, sample(99, contracts.StatusDraft, "x"), 1)
	require.ErrorIs(t, err, contracts.ErrNotFound)

	// Returned records are copies.
	stored.ApproverRoles[0] = "mutated"
	again, err := repo.Get(ctx, "CHG00001")
	require.NoError(t, err)
	assert.Equal(t, "it", again.ApproverRoles[0])
}

func TestMemoryChangeRequestStore(t *testing.T) {
	exerciseRepository(t, NewMemoryChangeRequestStore())
}

func TestSQLiteChangeRequestStore(t *testing.T) {
	repo, db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	exerciseRepository(t, repo)
}

func TestSQLiteChangeRequestStore_File(t *testing.T) {
	path := t.TempDir() + "/data/changegate.db"
	repo, db, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, repo.Insert(context.Background(), sample(7, contracts.StatusDraft, "alice")))
	require.NoError(t, db.Close())

	repo, db, err = OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	got, err := repo.Get(context.Background(), "CHG00007")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.CreatedBy)
}

func TestFormatAndParseID(t *testing.T) {
	assert.Equal(t, "CHG00042", FormatID(42))
	assert.Equal(t, "CHG123456", FormatID(123456))

	n, ok := ParseSequence("CHG00042")
	assert.True(t, ok)
	assert.Equal(t, 42, n)
	_, ok = ParseSequence("REQ00001")
	assert.False(t, ok)
	_, ok = ParseSequence("CHGabc")
	assert.False(t, ok)
}
