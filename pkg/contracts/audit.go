package contracts

import "time"

// Entity types recorded in audit entries.
const (
	EntityChangeRequest     = "change-request"
	EntityRiskConfiguration = "risk-configuration"
)

// AuditEntry is one immutable record of an action taken on an entity.
// Sequence, PreviousHash and EntryHash chain the entries of one entity so
// that truncation or tampering is detectable.
type AuditEntry struct {
	ID           string    `json:"id"`
	EntityID     string    `json:"entity_id"`
	EntityType   string    `json:"entity_type"`
	Message      string    `json:"message"`
	PerformedBy  string    `json:"performed_by"`
	Timestamp    time.Time `json:"timestamp"`
	Sequence     uint64    `json:"sequence"`
	PreviousHash string    `json:"previous_hash"`
	EntryHash    string    `json:"entry_hash"`
}
