package caff

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"caff_back/failure"
	"caff_back/logging"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
	maxCommentLen   = 4000
)

// Page selects a window of the collection listing.
type Page struct {
	Offset int
	Limit  int
}

func (p Page) normalize() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

// DeleteHook runs after a collection has been deleted from the database.
type DeleteHook func(ctx context.Context, deleted *Caff)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithDeleteHook registers a hook that removes files belonging to deleted
// collections.
func WithDeleteHook(hook DeleteHook) StoreOption {
	return func(s *Store) {
		s.onDelete = hook
	}
}

// Store reads and mutates persisted collections and their comments.
type Store struct {
	db       *gorm.DB
	cache    *ListCache
	onDelete DeleteHook
	logger   logrus.FieldLogger
}

// NewStore creates a store. cache may be nil.
func NewStore(db *gorm.DB, cache *ListCache, logger logrus.FieldLogger, opts ...StoreOption) *Store {
	s := &Store{db: db, cache: cache, logger: logging.Component(logger, "caff")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func withChildren(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Ciffs", func(tx *gorm.DB) *gorm.DB { return tx.Order("position asc") }).
		Preload("Comments", func(tx *gorm.DB) *gorm.DB { return tx.Order("id asc") })
}

// Get loads one collection with its animation entries and comments.
func (s *Store) Get(ctx context.Context, id uint64) (*Caff, error) {
	var row Caff
	err := withChildren(s.db.WithContext(ctx)).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, failure.WithID(failure.CollectionNotFound, id, fmt.Errorf("caff %d does not exist", id))
		}
		return nil, failure.New(failure.PersistenceFailure, fmt.Errorf("load caff %d: %w", id, err))
	}
	return &row, nil
}

// List returns collections in id order. The first default-sized page is
// served from the listing cache when one is configured.
func (s *Store) List(ctx context.Context, page Page) ([]Caff, error) {
	page = page.normalize()
	var gen string
	if page.Offset == 0 && page.Limit == DefaultPageSize {
		gen, _ = s.cache.generation(ctx)
	}

	if gen != "" {
		rows, err := s.cache.get(ctx, gen)
		if err == nil {
			return rows, nil
		}
		if !errors.Is(err, redis.Nil) {
			s.logger.WithError(err).Debug("listing cache read failed")
		}
	}

	var rows []Caff
	err := withChildren(s.db.WithContext(ctx)).
		Order("id asc").
		Offset(page.Offset).
		Limit(page.Limit).
		Find(&rows).Error
	if err != nil {
		return nil, failure.New(failure.PersistenceFailure, fmt.Errorf("list caffs: %w", err))
	}

	if gen != "" {
		s.cache.store(ctx, gen, rows)
	}
	return rows, nil
}

// Delete removes a collection together with its animation entries and
// comments in one transaction, then runs the delete hook.
func (s *Store) Delete(ctx context.Context, id uint64) (*Caff, error) {
	var deleted Caff
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&deleted).Error; err != nil {
			return err
		}
		if err := tx.Where("collection_id = ?", id).Delete(&Comment{}).Error; err != nil {
			return fmt.Errorf("delete comments: %w", err)
		}
		if err := tx.Where("collection_id = ?", id).Delete(&Ciff{}).Error; err != nil {
			return fmt.Errorf("delete ciffs: %w", err)
		}
		if err := tx.Delete(&Caff{}, id).Error; err != nil {
			return fmt.Errorf("delete caff: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, failure.WithID(failure.CollectionNotFound, id, fmt.Errorf("caff %d does not exist", id))
		}
		return nil, failure.WithID(failure.PersistenceFailure, id, err)
	}

	s.cache.invalidate(ctx)
	if s.onDelete != nil {
		s.onDelete(ctx, &deleted)
	}
	s.logger.WithField("caff_id", id).Info("collection deleted")
	return &deleted, nil
}

func (s *Store) requireCaff(ctx context.Context, id uint64) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Caff{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return failure.New(failure.PersistenceFailure, fmt.Errorf("check caff %d: %w", id, err))
	}
	if count == 0 {
		return failure.WithID(failure.CollectionNotFound, id, fmt.Errorf("caff %d does not exist", id))
	}
	return nil
}

func validateCommentText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", failure.Newf(failure.InvalidInput, "comment text cannot be empty")
	}
	if len(text) > maxCommentLen {
		return "", failure.Newf(failure.InvalidInput, "comment text exceeds %d bytes", maxCommentLen)
	}
	return text, nil
}

// ListComments returns a collection's comments in creation order.
func (s *Store) ListComments(ctx context.Context, caffID uint64) ([]Comment, error) {
	if err := s.requireCaff(ctx, caffID); err != nil {
		return nil, err
	}
	var comments []Comment
	if err := s.db.WithContext(ctx).Where("collection_id = ?", caffID).Order("id asc").Find(&comments).Error; err != nil {
		return nil, failure.New(failure.PersistenceFailure, fmt.Errorf("list comments: %w", err))
	}
	return comments, nil
}

// CreateComment attaches a comment by authorID to a collection.
func (s *Store) CreateComment(ctx context.Context, caffID uint64, authorID, text string) (*Comment, error) {
	text, err := validateCommentText(text)
	if err != nil {
		return nil, err
	}
	if err := s.requireCaff(ctx, caffID); err != nil {
		return nil, err
	}

	comment := Comment{CollectionID: caffID, AuthorID: authorID, Text: text}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		return nil, failure.New(failure.PersistenceFailure, fmt.Errorf("create comment: %w", err))
	}
	s.cache.invalidate(ctx)
	return &comment, nil
}

// UpdateComment replaces the text of a comment.
func (s *Store) UpdateComment(ctx context.Context, caffID, commentID uint64, text string) (*Comment, error) {
	text, err := validateCommentText(text)
	if err != nil {
		return nil, err
	}

	result := s.db.WithContext(ctx).
		Model(&Comment{}).
		Where("id = ? AND collection_id = ?", commentID, caffID).
		Update("text", text)
	if result.Error != nil {
		return nil, failure.New(failure.PersistenceFailure, fmt.Errorf("update comment: %w", result.Error))
	}
	if result.RowsAffected == 0 {
		return nil, s.commentNotFound(ctx, caffID, commentID)
	}

	var comment Comment
	if err := s.db.WithContext(ctx).First(&comment, commentID).Error; err != nil {
		return nil, failure.New(failure.PersistenceFailure, fmt.Errorf("reload comment: %w", err))
	}
	s.cache.invalidate(ctx)
	return &comment, nil
}

// DeleteComment removes a comment from a collection.
func (s *Store) DeleteComment(ctx context.Context, caffID, commentID uint64) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND collection_id = ?", commentID, caffID).
		Delete(&Comment{})
	if result.Error != nil {
		return failure.New(failure.PersistenceFailure, fmt.Errorf("delete comment: %w", result.Error))
	}
	if result.RowsAffected == 0 {
		return s.commentNotFound(ctx, caffID, commentID)
	}
	s.cache.invalidate(ctx)
	return nil
}

func (s *Store) commentNotFound(ctx context.Context, caffID, commentID uint64) error {
	if err := s.requireCaff(ctx, caffID); err != nil {
		return err
	}
	return failure.WithID(failure.CommentNotFound, commentID, fmt.Errorf("comment %d does not exist on caff %d", commentID, caffID))
}
