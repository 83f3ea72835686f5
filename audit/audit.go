// Package audit records significant actions as append-only log entries.
//
// The service holds no mutable state: every call receives the database handle
// it writes through, so a caller inside a transaction can pass the transaction.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"caff_back/logging"
)

// Entry describes an audit record before it is stored.
type Entry struct {
	Level   Level
	ActorID string
	Action  Action
	Entity  string
	Message string
}

// Service appends and reads audit entries.
type Service struct {
	logger logrus.FieldLogger
}

// NewService creates the audit service. The logger mirrors every entry.
func NewService(logger logrus.FieldLogger) *Service {
	return &Service{logger: logging.Component(logger, "audit")}
}

// Record appends one entry. An empty ActorID is stored as NULL.
func (s *Service) Record(ctx context.Context, db *gorm.DB, e Entry) error {
	if db == nil {
		return errors.New("audit: nil database handle")
	}
	if !e.Level.Valid() {
		return fmt.Errorf("audit: invalid level %q", e.Level)
	}
	if !e.Action.Valid() {
		return fmt.Errorf("audit: invalid action %q", e.Action)
	}

	row := LogEntry{
		Level:   e.Level,
		Action:  e.Action,
		Entity:  e.Entity,
		Message: strings.TrimSpace(e.Message),
	}
	if actor := strings.TrimSpace(e.ActorID); actor != "" {
		row.ActorID = &actor
	}

	if err := db.WithContext(ctx).Create(&row).Error; err != nil {
		s.log().WithError(err).WithField("message", row.Message).Error("audit: write entry failed")
		return fmt.Errorf("audit: write entry: %w", err)
	}

	fields := logrus.Fields{"audit_id": row.ID, "action": string(row.Action), "entity": row.Entity}
	if row.ActorID != nil {
		fields["actor"] = *row.ActorID
	}
	entry := s.log().WithFields(fields)
	switch row.Level {
	case LevelInfo:
		entry.Info(row.Message)
	case LevelWarning:
		entry.Warn(row.Message)
	case LevelError:
		entry.Error(row.Message)
	}
	return nil
}

// List returns every entry in insertion order.
func (s *Service) List(ctx context.Context, db *gorm.DB) ([]LogEntry, error) {
	if db == nil {
		return nil, errors.New("audit: nil database handle")
	}
	var entries []LogEntry
	if err := db.WithContext(ctx).Order("id asc").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("audit: list entries: %w", err)
	}
	return entries, nil
}

func (s *Service) log() logrus.FieldLogger {
	if s == nil || s.logger == nil {
		return logging.Discard()
	}
	return s.logger
}

func actorLabel(actorID string) string {
	if strings.TrimSpace(actorID) == "" {
		return "anonymous"
	}
	return actorID
}

// ActionMessage describes a completed action.
func ActionMessage(actorID string, action Action, entity string) string {
	return fmt.Sprintf("User with ID %s did %s %s.", actorLabel(actorID), action.Verb(), entity)
}

// ForbiddenMessage describes an actor lacking the role for an action.
func ForbiddenMessage(actorID string, action Action, entity string) string {
	return fmt.Sprintf("User with ID %s is not authorized to %s %s.", actorLabel(actorID), action.Verb(), entity)
}

// NotFoundMessage describes an action on a missing entity.
func NotFoundMessage(actorID string, action Action, entity string) string {
	return fmt.Sprintf("User with ID %s did not find entity when trying to %s %s.", actorLabel(actorID), action.Verb(), entity)
}

// FailureMessage describes an action that failed with cause.
func FailureMessage(actorID string, action Action, entity string, cause error) string {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	return fmt.Sprintf("User with ID %s failed to %s %s: %s.", actorLabel(actorID), action.Verb(), entity, reason)
}

// InvalidTokenMessage describes a request whose credential could not be resolved.
func InvalidTokenMessage(action Action, entity string, cause error) string {
	msg := fmt.Sprintf("Invalid token when trying to %s %s", action.Verb(), entity)
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return msg + "."
}
