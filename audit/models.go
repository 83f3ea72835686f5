package audit

import (
	"fmt"
	"time"
)

// Level is the severity of an audit entry.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Valid reports whether l is one of the defined levels.
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelError:
		return true
	}
	return false
}

// Action is the kind of operation an audit entry describes.
type Action string

const (
	ActionGet      Action = "GET"
	ActionCreate   Action = "CREATED"
	ActionEdit     Action = "EDITED"
	ActionDelete   Action = "DELETED"
	ActionUpload   Action = "UPLOADED"
	ActionAuthFail Action = "AUTHENTICATE"
)

// Valid reports whether a is one of the defined actions.
func (a Action) Valid() bool {
	switch a {
	case ActionGet, ActionCreate, ActionEdit, ActionDelete, ActionUpload, ActionAuthFail:
		return true
	}
	return false
}

// Verb renders the action for human-readable messages.
func (a Action) Verb() string {
	switch a {
	case ActionGet:
		return "read"
	case ActionCreate:
		return "create"
	case ActionEdit:
		return "edit"
	case ActionDelete:
		return "delete"
	case ActionUpload:
		return "upload"
	case ActionAuthFail:
		return "authenticate"
	}
	return fmt.Sprintf("perform %q on", string(a))
}

// LogEntry is one append-only audit record.
type LogEntry struct {
	ID        uint64    `gorm:"primaryKey"`
	Level     Level     `gorm:"size:16;not null;index"`
	ActorID   *string   `gorm:"size:128;index"`
	Action    Action    `gorm:"size:32;not null"`
	Entity    string    `gorm:"size:64"`
	Message   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (LogEntry) TableName() string {
	return "logs"
}
