package authorization

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"caff_back/audit"
	"caff_back/failure"
	"caff_back/logging"
)

const identityKey = "caff_identity"

// Guard resolves request credentials and enforces role requirements.
type Guard struct {
	resolver Resolver
	users    *UserStore
	overlay  *Overlay
	logger   logrus.FieldLogger
}

// NewGuard builds a guard. users may be nil, in which case no shadow row is kept.
func NewGuard(resolver Resolver, users *UserStore, overlay *Overlay, logger logrus.FieldLogger) *Guard {
	return &Guard{
		resolver: resolver,
		users:    users,
		overlay:  overlay,
		logger:   logging.Component(logger, "guard"),
	}
}

// RequireAuthenticated ensures the request carries a credential that resolves
// to an identity and stores that identity in the context.
func (g *Guard) RequireAuthenticated() gin.HandlerFunc {
	if g == nil || g.resolver == nil {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": failure.Unauthorized.String(), "detail": "authentication required"})
		}
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		action := ActionForMethod(c.Request.Method)
		entity := EntityForRoute(c)

		identity, err := g.resolver.Resolve(ctx, credentialFrom(c))
		if authErr := g.overlay.Authorize(ctx, identity, err, action, entity, nil); authErr != nil {
			Abort(c, authErr)
			return
		}

		if g.users != nil {
			if _, err := g.users.Ensure(ctx, identity); err != nil {
				g.logger.WithError(err).WithField("subject", identity.SubjectID).Warn("guard: ensure user shadow failed")
			}
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// RequireRole admits requests whose identity satisfies allow. It must run
// after RequireAuthenticated.
func (g *Guard) RequireRole(action audit.Action, entity string, allow Requirement) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := CurrentIdentity(c)
		if !ok {
			Abort(c, failure.Newf(failure.Unauthorized, "authentication required"))
			return
		}
		label := entityLabel(c, entity)
		if err := g.overlay.Authorize(c.Request.Context(), identity, nil, action, label, allow); err != nil {
			Abort(c, err)
			return
		}
		c.Next()
	}
}

// RequireAdmin is RequireRole with AdminOnly.
func (g *Guard) RequireAdmin(action audit.Action, entity string) gin.HandlerFunc {
	return g.RequireRole(action, entity, AdminOnly)
}

// CurrentIdentity returns the identity stored by RequireAuthenticated.
func CurrentIdentity(c *gin.Context) (*Identity, bool) {
	value, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	identity, ok := value.(*Identity)
	return identity, ok && identity != nil
}

// Abort writes err as a JSON error body with the status of its kind.
func Abort(c *gin.Context, err error) {
	kind := failure.KindOf(err)
	body := gin.H{"error": kind.String(), "detail": err.Error()}
	if id := failure.IDOf(err); id != 0 {
		body["id"] = id
	}
	c.AbortWithStatusJSON(kind.HTTPStatus(), body)
}

// ActionForMethod maps an HTTP method to the audit action it performs.
func ActionForMethod(method string) audit.Action {
	switch strings.ToUpper(method) {
	case http.MethodPost:
		return audit.ActionCreate
	case http.MethodPut, http.MethodPatch:
		return audit.ActionEdit
	case http.MethodDelete:
		return audit.ActionDelete
	default:
		return audit.ActionGet
	}
}

// EntityForRoute labels the entity of a request by its route pattern.
func EntityForRoute(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return c.Request.URL.Path
}

func entityLabel(c *gin.Context, entity string) string {
	if id := c.Param("comment_id"); id != "" {
		return entity + " " + id
	}
	if id := c.Param("caff_id"); id != "" {
		return entity + " " + id
	}
	return entity
}

func credentialFrom(c *gin.Context) string {
	if token := BearerToken(c.GetHeader("Authorization")); token != "" {
		return token
	}
	if token, err := c.Cookie("token"); err == nil {
		return strings.TrimSpace(token)
	}
	return ""
}
