// Package audit implements the append-only, hash-chained audit trail kept on
// every change request, the JSON-lines sink that mirrors it to an external
// log, and evidence pack export.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

// GenesisHash is the previous hash of the first entry of every trail.
const GenesisHash = "genesis"

var ErrChainBroken = errors.New("audit chain is broken")

// Record describes an action to append to a trail.
type Record struct {
	EntityType  string
	EntityID    string
	PerformedBy string
	Message     string
}

// Next builds the entry that follows trail. The timestamp is clamped so that
// it never precedes the last entry's timestamp.
func Next(trail []contracts.AuditEntry, rec Record, now time.Time) (contracts.AuditEntry, error) {
	now = now.UTC()
	prevHash := GenesisHash
	var seq uint64 = 1
	if n := len(trail); n > 0 {
		last := trail[n-1]
		prevHash = last.EntryHash
		seq = last.Sequence + 1
		if now.Before(last.Timestamp) {
			now = last.Timestamp
		}
	}

	entry := contracts.AuditEntry{
		ID:           uuid.New().String(),
		EntityID:     rec.EntityID,
		EntityType:   rec.EntityType,
		Message:      rec.Message,
		PerformedBy:  rec.PerformedBy,
		Timestamp:    now,
		Sequence:     seq,
		PreviousHash: prevHash,
	}
	hash, err := Hash(entry)
	if err != nil {
		return contracts.AuditEntry{}, err
	}
	entry.EntryHash = hash
	return entry, nil
}

// Append returns trail extended with the entry for rec.
func Append(trail []contracts.AuditEntry, rec Record, now time.Time) ([]contracts.AuditEntry, contracts.AuditEntry, error) {
	entry, err := Next(trail, rec, now)
	if err != nil {
		return trail, contracts.AuditEntry{}, err
	}
	out := make([]contracts.AuditEntry, len(trail), len(trail)+1)
	copy(out, trail)
	return append(out, entry), entry, nil
}

// Hash computes the RFC 8785 canonical SHA-256 of e, excluding EntryHash.
func Hash(e contracts.AuditEntry) (string, error) {
	hashable := struct {
		ID           string    `json:"id"`
		EntityID     string    `json:"entity_id"`
		EntityType   string    `json:"entity_type"`
		Message      string    `json:"message"`
		PerformedBy  string    `json:"performed_by"`
		Timestamp    time.Time `json:"timestamp"`
		Sequence     uint64    `json:"sequence"`
		PreviousHash string    `json:"previous_hash"`
	}{
		ID:           e.ID,
		EntityID:     e.EntityID,
		EntityType:   e.EntityType,
		Message:      e.Message,
		PerformedBy:  e.PerformedBy,
		Timestamp:    e.Timestamp.UTC(),
		Sequence:     e.Sequence,
		PreviousHash: e.PreviousHash,
	}
	raw, err := json.Marshal(hashable)
	if err != nil {
		return "", fmt.Errorf("marshal audit entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit entry: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Verify checks sequence numbers, hash links and entry hashes of a trail.
func Verify(trail []contracts.AuditEntry) error {
	expectedPrev := GenesisHash
	for i, entry := range trail {
		if entry.Sequence != uint64(i+1) {
			return fmt.Errorf("%w: entry %d has sequence %d", ErrChainBroken, i, entry.Sequence)
		}
		if entry.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s but expected %s",
				ErrChainBroken, i, entry.PreviousHash, expectedPrev)
		}
		if i > 0 && entry.Timestamp.Before(trail[i-1].Timestamp) {
			return fmt.Errorf("%w: entry %d timestamp precedes entry %d", ErrChainBroken, i, i-1)
		}
		computed, err := Hash(entry)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrChainBroken, i, err)
		}
		if computed != entry.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)",
				ErrChainBroken, i, computed, entry.EntryHash)
		}
		expectedPrev = entry.EntryHash
	}
	return nil
}

// Head returns the hash of the last entry, or GenesisHash for an empty trail.
func Head(trail []contracts.AuditEntry) string {
	if len(trail) == 0 {
		return GenesisHash
	}
	return trail[len(trail)-1].EntryHash
}
