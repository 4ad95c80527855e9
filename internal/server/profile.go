package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	profiledomain "github.com/smallbiznis/sousou/internal/profile/domain"
)

type signUpRequest struct {
	Name       string `json:"name" binding:"required"`
	Email      string `json:"email" binding:"required"`
	InviteCode string `json:"invite_code" binding:"required"`
}

func (s *Server) SignUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	profile, err := s.profileSvc.SignUp(c.Request.Context(), profiledomain.SignUpRequest{
		Name:       req.Name,
		Email:      req.Email,
		InviteCode: req.InviteCode,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": profile})
}

func (s *Server) Me(c *gin.Context) {
	profile, err := s.profileSvc.Me(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": profile})
}

type updateMeRequest struct {
	Name  string `json:"name" binding:"required"`
	Phone string `json:"phone"`
}

func (s *Server) UpdateMe(c *gin.Context) {
	var req updateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	profile, err := s.profileSvc.UpdateMe(c.Request.Context(), profiledomain.UpdateProfileRequest{
		Name:  req.Name,
		Phone: req.Phone,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": profile})
}

func (s *Server) AdminContacts(c *gin.Context) {
	contacts, err := s.profileSvc.AdminContacts(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": contacts})
}

func (s *Server) ListProfiles(c *gin.Context) {
	profiles, err := s.profileSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": profiles})
}

type updateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (s *Server) UpdateRole(c *gin.Context) {
	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	profileID := c.Param("profile_id")
	profile, err := s.profileSvc.UpdateRole(c.Request.Context(), profiledomain.UpdateRoleRequest{
		ProfileID: profileID,
		Role:      profiledomain.Role(req.Role),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), s.actorID(c), "profile.role_updated", "profile", &profileID, map[string]any{
		"role": req.Role,
	})
	c.JSON(http.StatusOK, gin.H{"data": profile})
}

func (s *Server) DeleteProfile(c *gin.Context) {
	profileID := c.Param("profile_id")
	if err := s.profileSvc.Delete(c.Request.Context(), profileID); err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), s.actorID(c), "profile.deleted", "profile", &profileID, nil)
	c.Status(http.StatusNoContent)
}

// actorID resolves the caller's profile ID for audit entries. A nil result
// just means the entry is recorded without an actor.
func (s *Server) actorID(c *gin.Context) *snowflake.ID {
	profile, err := s.profileSvc.Me(c.Request.Context())
	if err != nil || profile == nil {
		return nil
	}
	id := profile.ID
	return &id
}
