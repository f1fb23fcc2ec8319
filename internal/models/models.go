// Package models provides data model definitions for stashsync.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
// The empty UUID is stored as NULL so optional references stay nullable.
func (u UUID) Value() (driver.Value, error) {
	if u == "" {
		return nil, nil
	}
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*u = ""
	case string:
		*u = UUID(v)
	case []byte:
		*u = UUID(v)
	default:
		return fmt.Errorf("cannot scan %T into UUID", value)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// Family names one synchronized collection. Each family has its own remote
// database, outbox entries and checkpoint.
type Family string

const (
	FamilyItems   Family = "items"
	FamilyPrompts Family = "prompts"
)

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	return f == FamilyItems || f == FamilyPrompts
}

// SyncStatus tracks whether an entity's latest local state reached the remote.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusError   SyncStatus = "error"
)

// NowMillis returns the current wall clock in Unix milliseconds.
// All stored timestamps use this resolution.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// MillisTime converts a Unix millisecond timestamp to time.Time.
func MillisTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
