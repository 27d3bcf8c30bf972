// Package operation holds pending directory operations derived from HR events
// and the repositories that persist them between runs.
package operation

import (
	"context"
	"fmt"
	"time"
)

// Type is the kind of scheduled directory mutation
type Type string

const (
	Creation Type = "C"
	Deletion Type = "D"
)

// String returns a readable name for logs and metric labels
func (t Type) String() string {
	switch t {
	case Creation:
		return "creation"
	case Deletion:
		return "deletion"
	}
	return string(t)
}

// Valid reports whether t is a known operation type
func (t Type) Valid() bool {
	return t == Creation || t == Deletion
}

// Key identifies a pending operation. At most one record exists per key.
type Key struct {
	UserID string
	Type   Type
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Type, k.UserID)
}

// PendingOperation is a scheduled, not yet applied directory mutation.
// Name and email are only meaningful for creations.
type PendingOperation struct {
	UserID        string    `json:"user_id"`
	Type          Type      `json:"operation_type"`
	ScheduledDate time.Time `json:"scheduled_date"`
	FirstName     string    `json:"first_name,omitempty"`
	LastName      string    `json:"last_name,omitempty"`
	Email         string    `json:"email,omitempty"`
}

// Key returns the uniqueness key of the operation
func (o PendingOperation) Key() Key {
	return Key{UserID: o.UserID, Type: o.Type}
}

// Repository stores pending operations with replace semantics on Key
type Repository interface {
	// Upsert inserts op or replaces the record sharing its key
	Upsert(ctx context.Context, op PendingOperation) error
	// Get returns the record for key, or nil when none exists
	Get(ctx context.Context, key Key) (*PendingOperation, error)
	// Update applies mutate to the record for key and reports whether it existed
	Update(ctx context.Context, key Key, mutate func(*PendingOperation)) (bool, error)
	// Due returns every record of type t scheduled on or before cutoff
	Due(ctx context.Context, t Type, cutoff time.Time) ([]PendingOperation, error)
	// Delete removes the records for keys and returns how many existed
	Delete(ctx context.Context, keys ...Key) (int, error)
}

// Day truncates t to its calendar date at midnight UTC. Scheduled dates
// carry no time of day or zone.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// dayNumber is the count of days since the Unix epoch, used as a sortable score
func dayNumber(t time.Time) int64 {
	return Day(t).Unix() / 86400
}

func fromDayNumber(n int64) time.Time {
	return time.Unix(n*86400, 0).UTC()
}
