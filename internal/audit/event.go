// Package audit records who changed which configuration entry and when.
// Secret values never appear in events; they carry a redaction marker.
package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/systmms/cfgstore/pkg/configstore"
)

// EventType names what happened.
type EventType string

const (
	ConfigCreated    EventType = "config.created"
	ConfigUpdated    EventType = "config.updated"
	ConfigDeleted    EventType = "config.deleted"
	ConfigRolledBack EventType = "config.rolled_back"
	SecretModified   EventType = "secret.modified"
	KeyRotated       EventType = "key.rotated"
)

// Event is one audit record.
type Event struct {
	ID              string             `json:"id"`
	Type            EventType          `json:"type"`
	Timestamp       time.Time          `json:"timestamp"`
	Actor           string             `json:"actor"`
	Namespace       string             `json:"namespace,omitempty"`
	Key             string             `json:"key,omitempty"`
	Environment     string             `json:"environment,omitempty"`
	Version         int64              `json:"version,omitempty"`
	PreviousVersion int64              `json:"previous_version,omitempty"`
	IsSecret        bool               `json:"is_secret,omitempty"`
	OldValue        *configstore.Value `json:"old_value,omitempty"`
	NewValue        *configstore.Value `json:"new_value,omitempty"`
	Redacted        bool               `json:"redacted,omitempty"`
	Details         map[string]string  `json:"details,omitempty"`
}

// NewEvent stamps an event for a change to t.
func NewEvent(typ EventType, actor string, t configstore.Tuple) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        typ,
		Timestamp:   time.Now().UTC(),
		Actor:       actor,
		Namespace:   t.Namespace,
		Key:         t.Key,
		Environment: t.Environment.String(),
	}
}

// Subject is the routing key used by message-bus sinks.
func (e Event) Subject() string {
	return string(e.Type)
}

// PartitionKey keeps events for one tuple in order on partitioned sinks.
func (e Event) PartitionKey() string {
	if e.Namespace == "" {
		return string(e.Type)
	}
	return e.Environment + ":" + e.Namespace + ":" + e.Key
}

// WithChange records the versions involved in a write. Values are copied
// for plain entries only; secret changes set Redacted instead.
func (e Event) WithChange(prev, next *configstore.Entry) Event {
	if next != nil {
		e.Version = next.Version
		e.IsSecret = next.IsSecret
	}
	if prev != nil {
		e.PreviousVersion = prev.Version
		e.IsSecret = e.IsSecret || prev.IsSecret
	}
	if e.IsSecret {
		e.Redacted = true
		return e
	}
	if prev != nil && !prev.Tombstone && !prev.Value.IsZero() {
		v := prev.Value
		e.OldValue = &v
	}
	if next != nil && !next.Tombstone && !next.Value.IsZero() {
		v := next.Value
		e.NewValue = &v
	}
	return e
}
