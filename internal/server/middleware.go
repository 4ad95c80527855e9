package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/sousou/internal/identity"
	profiledomain "github.com/smallbiznis/sousou/internal/profile/domain"
)

const HeaderUserID = "X-User-Id"

// IdentityMiddleware copies the gateway-injected subject into the request
// context. Requests without the header pass through unauthenticated; the
// guards below decide what that means per route.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if subject != "" {
			ctx := identity.WithIdentity(c.Request.Context(), identity.Identity{Subject: subject})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := identity.FromContext(c.Request.Context()); !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func (s *Server) requireRole(allowed func(profiledomain.Role) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := s.profileSvc.Me(c.Request.Context())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !allowed(caller.Role) {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func (s *Server) RequireBatchManager() gin.HandlerFunc {
	return s.requireRole(profiledomain.Role.CanManageBatches)
}

func (s *Server) RequireAdmin() gin.HandlerFunc {
	return s.requireRole(profiledomain.Role.CanAdminister)
}
