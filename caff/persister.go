package caff

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"caff_back/failure"
	"caff_back/logging"
	"caff_back/metadata"
)

// SourceInfo describes the retained upload a collection was decoded from.
type SourceInfo struct {
	Path         string
	OriginalName string
	Digest       string
}

// Persister writes a decoded collection and its animation entries.
type Persister struct {
	db     *gorm.DB
	cache  *ListCache
	logger logrus.FieldLogger
}

// NewPersister creates a persister. cache may be nil.
func NewPersister(db *gorm.DB, cache *ListCache, logger logrus.FieldLogger) *Persister {
	return &Persister{db: db, cache: cache, logger: logging.Component(logger, "caff")}
}

// Persist inserts one Caff row and one Ciff row per animation in order,
// inside a single transaction. On any error nothing is committed and the
// error is a PersistenceFailure.
func (p *Persister) Persist(ctx context.Context, meta *metadata.Metadata, source SourceInfo) (uint64, error) {
	if meta == nil {
		return 0, failure.New(failure.PersistenceFailure, errors.New("caff: nil metadata"))
	}

	var id uint64
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := Caff{
			Year:         meta.Credits.Year,
			Month:        meta.Credits.Month,
			Day:          meta.Credits.Day,
			Hour:         meta.Credits.Hour,
			Minute:       unknownMinute,
			Creator:      meta.Credits.Creator,
			CreatorLen:   utf8.RuneCountInString(meta.Credits.Creator),
			RawFile:      source.Path,
			OriginalName: source.OriginalName,
			SourceDigest: source.Digest,
			Metadata:     datatypes.JSON(meta.Raw),
		}
		if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
			return fmt.Errorf("insert caff: %w", err)
		}

		for i, anim := range meta.Animations {
			tags, err := JoinTags(anim.Tags)
			if err != nil {
				return fmt.Errorf("animation %d: %w", i, err)
			}
			entry := Ciff{
				CollectionID: row.ID,
				Position:     i,
				Width:        anim.Width,
				Height:       anim.Height,
				Duration:     anim.Duration,
				Caption:      anim.Caption,
				Tags:         tags,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return fmt.Errorf("insert ciff %d: %w", i, err)
			}
		}

		id = row.ID
		return nil
	})
	if err != nil {
		p.logger.WithError(err).WithField("source", source.Path).Error("persist collection failed")
		return 0, failure.New(failure.PersistenceFailure, err)
	}

	p.cache.invalidate(ctx)
	p.logger.WithFields(logrus.Fields{"caff_id": id, "ciffs": len(meta.Animations)}).Info("collection persisted")
	return id, nil
}
