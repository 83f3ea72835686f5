package authorization

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"caff_back/audit"
	"caff_back/config"
	"caff_back/failure"
)

// Module wires together the resolver, the user shadow store and the guard.
type Module struct {
	db       *gorm.DB
	users    *UserStore
	overlay  *Overlay
	guard    *Guard
	resolver Resolver
}

// NewModule builds the authorization module. A nil resolver is built from
// settings.
func NewModule(db *gorm.DB, settings config.Settings, resolver Resolver, auditService *audit.Service, logger logrus.FieldLogger) (*Module, error) {
	if db == nil {
		return nil, errors.New("authorization: database handle is required")
	}
	if resolver == nil {
		built, err := NewKeycloakResolver(settings.KeycloakRealmURL, WithHS256Secret(settings.HS256Secret))
		if err != nil {
			return nil, err
		}
		resolver = built
	}

	users := NewUserStore(db)
	overlay := NewOverlay(db, auditService, logger)
	return &Module{
		db:       db,
		users:    users,
		overlay:  overlay,
		guard:    NewGuard(resolver, users, overlay, logger),
		resolver: resolver,
	}, nil
}

// Models lists the tables owned by this module.
func Models() []any {
	return []any{&User{}}
}

// Guard returns the request guard.
func (m *Module) Guard() *Guard {
	if m == nil {
		return nil
	}
	return m.guard
}

// Overlay returns the authorization overlay.
func (m *Module) Overlay() *Overlay {
	if m == nil {
		return nil
	}
	return m.overlay
}

// Users returns the user shadow store.
func (m *Module) Users() *UserStore {
	if m == nil {
		return nil
	}
	return m.users
}

type userResponse struct {
	SubjectID   string    `json:"subject_id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// RegisterRoutes mounts the identity endpoints under group.
func (m *Module) RegisterRoutes(group *gin.RouterGroup) {
	users := group.Group("/users", m.guard.RequireAuthenticated())
	users.GET("/me", func(c *gin.Context) {
		identity, ok := CurrentIdentity(c)
		if !ok {
			Abort(c, failure.Newf(failure.Unauthorized, "authentication required"))
			return
		}

		ctx := c.Request.Context()
		if _, err := m.users.Ensure(ctx, identity); err != nil {
			Abort(c, err)
			return
		}
		user, err := m.users.FindBySubject(ctx, identity.SubjectID)
		if err != nil {
			Abort(c, failure.New(failure.PersistenceFailure, fmt.Errorf("load user: %w", err)))
			return
		}

		c.JSON(http.StatusOK, userResponse{
			SubjectID:   user.SubjectID,
			DisplayName: user.DisplayName,
			Role:        identity.Role,
			CreatedAt:   user.CreatedAt,
		})
	})
}
