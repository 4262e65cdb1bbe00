package contracts

import (
	"fmt"
	"strings"
)

// Priority is the canonical P1 (most urgent) to P4 scale.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
	PriorityP4 Priority = "P4"

	DefaultPriority = PriorityP3
)

// ParsePriority accepts the canonical P1..P4 form or the descriptive
// critical/high/medium/low aliases. An empty string yields DefaultPriority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultPriority, nil
	case "p1", "critical":
		return PriorityP1, nil
	case "p2", "high":
		return PriorityP2, nil
	case "p3", "medium":
		return PriorityP3, nil
	case "p4", "low":
		return PriorityP4, nil
	}
	return "", &ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", s)}
}

// Label returns the descriptive alias for p.
func (p Priority) Label() string {
	switch p {
	case PriorityP1:
		return "critical"
	case PriorityP2:
		return "high"
	case PriorityP3:
		return "medium"
	case PriorityP4:
		return "low"
	}
	return string(p)
}
