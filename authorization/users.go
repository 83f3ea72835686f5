package authorization

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"caff_back/failure"
)

const ensuredTTL = 30 * time.Minute

// User is the local shadow of an externally managed subject.
type User struct {
	ID          uint   `gorm:"primaryKey"`
	SubjectID   string `gorm:"uniqueIndex;size:128;not null"`
	DisplayName string `gorm:"size:128;not null;default:''"`
	Role        Role   `gorm:"size:16;not null;default:'USER'"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (User) TableName() string {
	return "users"
}

// UserStore provides data access helpers backed by GORM.
type UserStore struct {
	db      *gorm.DB
	ensured *gocache.Cache
}

// NewUserStore creates a store over db.
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{
		db:      db,
		ensured: gocache.New(ensuredTTL, 2*ensuredTTL),
	}
}

// Ensure creates the shadow row for identity if it does not exist yet. An
// existing row is never modified. The returned flag reports whether a row was
// inserted by this call.
func (s *UserStore) Ensure(ctx context.Context, identity *Identity) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("authorization: user store not initialized")
	}
	if identity == nil || strings.TrimSpace(identity.SubjectID) == "" {
		return false, failure.Newf(failure.InvalidInput, "identity has no subject")
	}
	if _, ok := s.ensured.Get(identity.SubjectID); ok {
		return false, nil
	}

	role := identity.Role
	if !role.Valid() {
		role = RoleUser
	}

	if _, err := s.FindBySubject(ctx, identity.SubjectID); err == nil {
		s.ensured.SetDefault(identity.SubjectID, struct{}{})
		return false, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, failure.New(failure.PersistenceFailure, fmt.Errorf("lookup user: %w", err))
	}

	user := User{SubjectID: identity.SubjectID, DisplayName: identity.Name, Role: role}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		// A concurrent first request may have inserted the row between the
		// lookup and the insert.
		if _, lookupErr := s.FindBySubject(ctx, identity.SubjectID); lookupErr == nil {
			s.ensured.SetDefault(identity.SubjectID, struct{}{})
			return false, nil
		}
		return false, failure.New(failure.PersistenceFailure, fmt.Errorf("ensure user: %w", err))
	}

	s.ensured.SetDefault(identity.SubjectID, struct{}{})
	return true, nil
}

// FindBySubject loads the shadow row of a subject.
func (s *UserStore) FindBySubject(ctx context.Context, subjectID string) (*User, error) {
	var user User
	result := s.db.WithContext(ctx).Where("subject_id = ?", subjectID).First(&user)
	if result.Error != nil {
		return nil, result.Error
	}
	return &user, nil
}
