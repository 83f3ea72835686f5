package authorization

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"caff_back/audit"
	"caff_back/failure"
	"caff_back/logging"
)

// Overlay gates operations on identity and role and writes the audit trail
// for their outcome.
type Overlay struct {
	db     *gorm.DB
	audit  *audit.Service
	logger logrus.FieldLogger
}

// NewOverlay creates an overlay writing audit entries through db.
func NewOverlay(db *gorm.DB, auditService *audit.Service, logger logrus.FieldLogger) *Overlay {
	return &Overlay{
		db:     db,
		audit:  auditService,
		logger: logging.Component(logger, "authorization"),
	}
}

// Authorize checks that identity was resolved and that allow admits its role.
// A missing identity is Unauthorized and audited without actor. A role
// mismatch is Forbidden and audited with the actor.
func (o *Overlay) Authorize(ctx context.Context, identity *Identity, resolveErr error, action audit.Action, entity string, allow Requirement) error {
	if identity == nil || resolveErr != nil {
		cause := resolveErr
		if cause == nil {
			cause = errors.New("no credential")
		}
		o.record(ctx, audit.Entry{
			Level:   audit.LevelWarning,
			Action:  action,
			Entity:  entity,
			Message: audit.InvalidTokenMessage(action, entity, cause),
		})
		if failure.Is(cause, failure.Unauthorized) {
			return cause
		}
		return failure.New(failure.Unauthorized, cause)
	}

	if allow != nil && !allow(identity.Role) {
		message := audit.ForbiddenMessage(identity.SubjectID, action, entity)
		o.record(ctx, audit.Entry{
			Level:   audit.LevelWarning,
			ActorID: identity.SubjectID,
			Action:  action,
			Entity:  entity,
			Message: message,
		})
		return failure.Newf(failure.Forbidden, "%s", message)
	}
	return nil
}

// Run authorizes and then executes fn. Mutating operations get an INFO entry
// on success and an ERROR entry on failure.
func (o *Overlay) Run(ctx context.Context, identity *Identity, action audit.Action, entity string, allow Requirement, mutating bool, fn func(ctx context.Context) error) error {
	if err := o.Authorize(ctx, identity, nil, action, entity, allow); err != nil {
		return err
	}

	err := fn(ctx)
	if !mutating {
		return err
	}

	entry := audit.Entry{
		Level:   audit.LevelInfo,
		ActorID: identity.SubjectID,
		Action:  action,
		Entity:  entity,
		Message: audit.ActionMessage(identity.SubjectID, action, entity),
	}
	if err != nil {
		entry.Level = audit.LevelError
		switch failure.KindOf(err) {
		case failure.CollectionNotFound, failure.CommentNotFound:
			entry.Message = audit.NotFoundMessage(identity.SubjectID, action, entity)
		default:
			entry.Message = audit.FailureMessage(identity.SubjectID, action, entity, err)
		}
	}
	o.record(ctx, entry)
	return err
}

// Record writes an arbitrary entry. Callers that audit their own outcome use
// it instead of Run.
func (o *Overlay) Record(ctx context.Context, entry audit.Entry) {
	o.record(ctx, entry)
}

func (o *Overlay) record(ctx context.Context, entry audit.Entry) {
	if o == nil || o.audit == nil {
		return
	}
	if err := o.audit.Record(ctx, o.db, entry); err != nil {
		o.logger.WithError(err).Error("authorization: audit entry dropped")
	}
}
