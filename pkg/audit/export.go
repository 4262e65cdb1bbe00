package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/Mindburn-Labs/changegate/pkg/contracts"
)

var (
	ErrEmptyTrail         = errors.New("audit: trail is empty")
	ErrStoreNotConfigured = errors.New("audit: object store not configured")
)

// ObjectStore persists exported evidence packs.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Pack is a generated evidence archive.
type Pack struct {
	EntityID    string
	GeneratedAt time.Time
	Data        []byte
	Checksum    string
	ChainHead   string
}

// Key returns the object key the pack is stored under.
func (p *Pack) Key(prefix string) string {
	return path.Join(prefix, p.EntityID, p.GeneratedAt.UTC().Format("20060102T150405Z")+".zip")
}

// Exporter creates evidence packs for change requests.
type Exporter struct {
	store  ObjectStore
	prefix string
	clock  func() time.Time
}

func NewExporter(store ObjectStore, prefix string) *Exporter {
	return &Exporter{store: store, prefix: prefix, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (e *Exporter) WithClock(clock func() time.Time) *Exporter {
	e.clock = clock
	return e
}

// GeneratePack builds a zip with the record, its audit trail and a manifest.
// The trail is verified first; a broken chain is never exported.
func (e *Exporter) GeneratePack(_ context.Context, cr *contracts.ChangeRequest) (*Pack, error) {
	if cr == nil || len(cr.Audit) == 0 {
		return nil, ErrEmptyTrail
	}
	if err := Verify(cr.Audit); err != nil {
		return nil, err
	}
	now := e.clock().UTC()

	eventsJSON, err := json.MarshalIndent(cr.Audit, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("audit: failed to marshal events: %w", err)
	}
	recordJSON, err := json.MarshalIndent(cr, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("audit: failed to marshal record: %w", err)
	}
	eventsSum := sha256.Sum256(eventsJSON)
	manifest := map[string]any{
		"entity_id":     cr.ID,
		"entity_type":   contracts.EntityChangeRequest,
		"status":        cr.Status,
		"generated_at":  now,
		"event_count":   len(cr.Audit),
		"chain_head":    Head(cr.Audit),
		"events_sha256": hex.EncodeToString(eventsSum[:]),
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("audit: failed to marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for _, f := range []struct {
		name string
		data []byte
	}{
		{"events.json", eventsJSON},
		{"change_request.json", recordJSON},
		{"manifest.json", manifestJSON},
	} {
		fw, err := w.CreateHeader(&zip.FileHeader{Name: f.name, Method: zip.Deflate, Modified: now})
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(f.data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	data := buf.Bytes()
	sum := sha256.Sum256(data)
	return &Pack{
		EntityID:    cr.ID,
		GeneratedAt: now,
		Data:        data,
		Checksum:    hex.EncodeToString(sum[:]),
		ChainHead:   Head(cr.Audit),
	}, nil
}

// Publish generates a pack and writes it to the object store, returning the key.
func (e *Exporter) Publish(ctx context.Context, cr *contracts.ChangeRequest) (string, *Pack, error) {
	var key string
	pack, err := e.put(ctx, cr, func(p *Pack) string {
		key = p.Key(e.prefix)
		return key
	})
	if err != nil {
		return "", nil, err
	}
	return key, pack, nil
}

// PublishAs stores the pack under key, ignoring the exporter's prefix.
func (e *Exporter) PublishAs(ctx context.Context, cr *contracts.ChangeRequest, key string) (*Pack, error) {
	return e.put(ctx, cr, func(*Pack) string { return key })
}

func (e *Exporter) put(ctx context.Context, cr *contracts.ChangeRequest, keyFor func(*Pack) string) (*Pack, error) {
	if e.store == nil {
		return nil, ErrStoreNotConfigured
	}
	pack, err := e.GeneratePack(ctx, cr)
	if err != nil {
		return nil, err
	}
	key := keyFor(pack)
	if err := e.store.Put(ctx, key, pack.Data, "application/zip"); err != nil {
		return nil, fmt.Errorf("audit: upload %s: %w", key, err)
	}
	return pack, nil
}
