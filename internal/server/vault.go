package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	vaultdomain "github.com/smallbiznis/sousou/internal/vault/domain"
)

type issueCodeRequest struct {
	Kind    string `json:"kind" binding:"required"`
	BatchID string `json:"batch_id"`
}

func (s *Server) IssueCode(c *gin.Context) {
	var req issueCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	scope, err := parseScope(req.Kind, req.BatchID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	issuer := s.actorID(c)
	if issuer == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	issued, err := s.vaultSvc.Issue(c.Request.Context(), vaultdomain.IssueRequest{
		Scope:    *scope,
		IssuedBy: *issuer,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	codeID := issued.Code.ID.String()
	s.auditSvc.Record(c.Request.Context(), issuer, "code.issued", "one_time_code", &codeID, map[string]any{
		"kind": req.Kind,
	})

	// the plaintext appears in this response and nowhere else
	c.JSON(http.StatusCreated, gin.H{"data": gin.H{
		"code":      issued.Plaintext,
		"kind":      issued.Code.Kind,
		"batch_id":  issued.Code.BatchID,
		"issued_at": issued.Code.CreatedAt,
	}})
}

func (s *Server) ListCodes(c *gin.Context) {
	scope, err := parseScope(c.Query("kind"), c.Query("batch_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	codes, err := s.vaultSvc.List(c.Request.Context(), *scope)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": codes})
}

func parseScope(kind, batchID string) (*vaultdomain.Scope, error) {
	scope := vaultdomain.Scope{Kind: vaultdomain.ScopeKind(strings.TrimSpace(kind))}
	switch scope.Kind {
	case vaultdomain.ScopeLeave:
		id, err := snowflake.ParseString(strings.TrimSpace(batchID))
		if err != nil || id == 0 {
			return nil, vaultdomain.ErrInvalidScope
		}
		scope.BatchID = id
	case vaultdomain.ScopeSignup:
		if strings.TrimSpace(batchID) != "" {
			return nil, vaultdomain.ErrInvalidScope
		}
	default:
		return nil, vaultdomain.ErrInvalidScope
	}
	return &scope, nil
}
