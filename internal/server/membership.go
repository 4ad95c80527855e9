package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	membershipdomain "github.com/smallbiznis/sousou/internal/membership/domain"
)

func (s *Server) JoinOpenBatch(c *gin.Context) {
	result, err := s.membershipSvc.Join(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": result})
}

type requestLeaveRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) RequestLeave(c *gin.Context) {
	var req requestLeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	err := s.membershipSvc.RequestLeave(c.Request.Context(), membershipdomain.LeaveRequestInput{
		BatchID: c.Param("batch_id"),
		Reason:  req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

type leaveViaCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

func (s *Server) LeaveViaCode(c *gin.Context) {
	var req leaveViaCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.membershipSvc.LeaveViaCode(c.Request.Context(), c.Param("batch_id"), req.Code); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type setReservationRequest struct {
	Month int `json:"month" binding:"required"`
}

func (s *Server) SetReservation(c *gin.Context) {
	var req setReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.membershipSvc.SetReservation(c.Request.Context(), membershipdomain.ReservationInput{
		BatchID: c.Param("batch_id"),
		Month:   req.Month,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ClearReservation(c *gin.Context) {
	if err := s.membershipSvc.ClearReservation(c.Request.Context(), c.Param("batch_id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) OpenBatchAvailability(c *gin.Context) {
	availability, err := s.membershipSvc.OpenBatchAvailability(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": availability})
}

func (s *Server) ListLeaveRequests(c *gin.Context) {
	requests, err := s.membershipSvc.ListLeaveRequests(c.Request.Context(), c.Param("batch_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": requests})
}

type resolveLeaveRequest struct {
	Approve bool `json:"approve"`
}

func (s *Server) ResolveLeave(c *gin.Context) {
	var req resolveLeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	requestID := c.Param("request_id")
	err := s.membershipSvc.ResolveLeave(c.Request.Context(), membershipdomain.ResolveLeaveInput{
		RequestID: requestID,
		Approve:   req.Approve,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), s.actorID(c), "leave_request.resolved", "leave_request", &requestID, map[string]any{
		"approved": req.Approve,
	})
	c.Status(http.StatusNoContent)
}

func (s *Server) MarkPaymentVerified(c *gin.Context) {
	batchID := c.Param("batch_id")
	profileID := c.Param("profile_id")
	if err := s.membershipSvc.MarkPaymentVerified(c.Request.Context(), batchID, profileID); err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), s.actorID(c), "payment.verified", "profile", &profileID, map[string]any{
		"batch_id": batchID,
	})
	c.Status(http.StatusNoContent)
}
