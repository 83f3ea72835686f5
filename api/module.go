// Package api exposes the collection store and the ingestion pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"caff_back/audit"
	"caff_back/authorization"
	"caff_back/caff"
	"caff_back/failure"
	"caff_back/ingest"
	"caff_back/logging"
)

// PreviewLinker resolves the public URL of a mirrored preview. An empty URL
// means the local /preview route serves it.
type PreviewLinker interface {
	PublicURL(collectionID uint64) string
}

// Deps are the collaborators of the HTTP module.
type Deps struct {
	DB       *gorm.DB
	Store    *caff.Store
	Ingest   *ingest.Orchestrator
	Auth     *authorization.Module
	Audit    *audit.Service
	Previews PreviewLinker
	Logger   logrus.FieldLogger
}

// Module serves uploads, downloads, collections, comments and the audit log.
type Module struct {
	db       *gorm.DB
	store    *caff.Store
	ingest   *ingest.Orchestrator
	guard    *authorization.Guard
	overlay  *authorization.Overlay
	audit    *audit.Service
	previews PreviewLinker
	logger   logrus.FieldLogger
}

// NewModule validates deps.
func NewModule(deps Deps) (*Module, error) {
	switch {
	case deps.DB == nil:
		return nil, errors.New("api: database handle is required")
	case deps.Store == nil:
		return nil, errors.New("api: collection store is required")
	case deps.Ingest == nil:
		return nil, errors.New("api: ingest orchestrator is required")
	case deps.Auth == nil:
		return nil, errors.New("api: authorization module is required")
	}
	auditService := deps.Audit
	if auditService == nil {
		auditService = audit.NewService(deps.Logger)
	}
	return &Module{
		db:       deps.DB,
		store:    deps.Store,
		ingest:   deps.Ingest,
		guard:    deps.Auth.Guard(),
		overlay:  deps.Auth.Overlay(),
		audit:    auditService,
		previews: deps.Previews,
		logger:   logging.Component(deps.Logger, "api"),
	}, nil
}

// RegisterRoutes mounts the upload, download and /api routes.
func (m *Module) RegisterRoutes(router gin.IRouter) {
	authenticated := m.guard.RequireAuthenticated()

	router.POST("/upload_file", authenticated, limitBody(bodyLimit(m.ingest.MaxUploadBytes())), m.handleUploadFile)
	router.POST("/upload_archive", authenticated, limitBody(bodyLimit(ingest.MaxArchiveBytes)), m.handleUploadArchive)
	router.GET("/download_caff/:caff_id", authenticated, m.handleDownload)

	group := router.Group("/api", authenticated)
	group.GET("/", m.handleListCollections)
	group.GET("/logs", m.guard.RequireAdmin(audit.ActionGet, "log"), m.handleListLogs)
	group.GET("/:caff_id", m.handleGetCollection)
	group.DELETE("/:caff_id", m.guard.RequireAdmin(audit.ActionDelete, "caff"), m.handleDeleteCollection)
	group.GET("/:caff_id/comments", m.handleListComments)
	group.POST("/:caff_id/comments", m.handleCreateComment)
	group.PUT("/:caff_id/comments/:comment_id", m.guard.RequireAdmin(audit.ActionEdit, "comment"), m.handleUpdateComment)
	group.DELETE("/:caff_id/comments/:comment_id", m.guard.RequireAdmin(audit.ActionDelete, "comment"), m.handleDeleteComment)
}

// run executes fn through the overlay so mutations leave an audit entry.
// Role checks already happened in the route middleware.
func (m *Module) run(c *gin.Context, action audit.Action, entity string, mutating bool, fn func(ctx context.Context) error) bool {
	identity, _ := authorization.CurrentIdentity(c)
	if err := m.overlay.Run(c.Request.Context(), identity, action, entity, authorization.AnyRole, mutating, fn); err != nil {
		authorization.Abort(c, err)
		return false
	}
	return true
}

func idParam(c *gin.Context, name string) (uint64, error) {
	raw := strings.TrimSpace(c.Param(name))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, failure.Newf(failure.InvalidInput, "%s must be a positive integer, got %q", name, raw)
	}
	return id, nil
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, failure.Newf(failure.InvalidInput, "%s must be a non-negative integer, got %q", name, raw)
	}
	return v, nil
}
