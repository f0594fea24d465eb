package auth

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/elskow/memorial-auth/internal/api"
	"github.com/elskow/memorial-auth/internal/session"
	"github.com/elskow/memorial-auth/internal/tokens"
	"github.com/elskow/memorial-auth/internal/users"
)

// UserContextKey stores the authenticated *users.User in the gin context.
const UserContextKey = "user"

type AuthMiddleware struct {
	service *Service
	log     *zap.Logger
}

func NewAuthMiddleware(service *Service, log *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		service: service,
		log:     log,
	}
}

// RequireUser aborts with 401 unless the request carries a valid access token.
func (m *AuthMiddleware) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := m.resolve(c); !ok {
			return
		}
		c.Next()
	}
}

// OptionalUser attaches the user when a valid access token is present and
// otherwise lets the request through anonymously.
func (m *AuthMiddleware) OptionalUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := accessToken(c); token != "" {
			if user, err := m.service.Authenticate(c.Request.Context(), token); err == nil {
				setUser(c, user)
			}
		}
		c.Next()
	}
}

// RequireRole authenticates the request and checks the user against the
// resource named by the :id route parameter.
func (m *AuthMiddleware) RequireRole(role tokens.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			if user, ok = m.resolve(c); !ok {
				return
			}
		}

		resourceID := c.Param(api.ResourceIDParam)
		if err := m.service.Authorize(c.Request.Context(), user, resourceID, role); err != nil {
			if errors.Is(err, ErrForbidden) {
				m.log.Warn("role check failed",
					zap.String("user_id", user.ID),
					zap.String("resource_id", resourceID),
					zap.String("required", string(role)))
			}
			writeError(c, m.log, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (m *AuthMiddleware) resolve(c *gin.Context) (*users.User, bool) {
	user, err := m.service.Authenticate(c.Request.Context(), accessToken(c))
	if err != nil {
		writeError(c, m.log, err)
		c.Abort()
		return nil, false
	}
	setUser(c, user)
	return user, true
}

func setUser(c *gin.Context, user *users.User) {
	c.Set(UserContextKey, user)
}

// CurrentUser returns the user attached by the middleware.
func CurrentUser(c *gin.Context) (*users.User, bool) {
	v, ok := c.Get(UserContextKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*users.User)
	return user, ok
}

// accessToken prefers the Authorization header over the cookie.
func accessToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := c.Cookie(session.AccessCookie); err == nil {
		return cookie
	}
	return ""
}
