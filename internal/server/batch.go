package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	batchdomain "github.com/smallbiznis/sousou/internal/batch/domain"
)

func (s *Server) ListBatches(c *gin.Context) {
	batches, err := s.batchSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": batches})
}

func (s *Server) OpenBatch(c *gin.Context) {
	batch, err := s.batchSvc.Open(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": batch})
}

func (s *Server) GetBatch(c *gin.Context) {
	batch, err := s.batchSvc.Get(c.Request.Context(), c.Param("batch_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": batch})
}

func (s *Server) CreateBatch(c *gin.Context) {
	batch, err := s.batchSvc.Create(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	batchID := batch.ID.String()
	s.auditSvc.Record(c.Request.Context(), s.actorID(c), "batch.created", "batch", &batchID, map[string]any{
		"number": batch.Number,
	})
	c.JSON(http.StatusCreated, gin.H{"data": batch})
}

func (s *Server) DeleteBatch(c *gin.Context) {
	batchID := c.Param("batch_id")
	if err := s.batchSvc.Delete(c.Request.Context(), batchID); err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), s.actorID(c), "batch.deleted", "batch", &batchID, nil)
	c.Status(http.StatusNoContent)
}

func (s *Server) CloseBatch(c *gin.Context) {
	batchID := c.Param("batch_id")
	result, err := s.batchSvc.Close(c.Request.Context(), batchID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), s.actorID(c), "batch.closed", "batch", &batchID, map[string]any{
		"closed_batch_number": result.ClosedBatchNumber,
		"new_batch_number":    result.NewBatchNumber,
	})
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) RevealFairnessSeed(c *gin.Context) {
	batchID := c.Param("batch_id")
	if err := s.batchSvc.RevealFairnessSeed(c.Request.Context(), batchID); err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), s.actorID(c), "batch.seed_revealed", "batch", &batchID, nil)
	c.Status(http.StatusNoContent)
}

type updateBatchSettingsRequest struct {
	Frequency string `json:"frequency" binding:"required"`
	Duration  int    `json:"duration" binding:"required"`
	Amount    int64  `json:"amount" binding:"required"`
}

func (s *Server) UpdateBatchSettings(c *gin.Context) {
	var req updateBatchSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	batchID := c.Param("batch_id")
	batch, err := s.batchSvc.UpdateSettings(c.Request.Context(), batchdomain.UpdateSettingsRequest{
		BatchID:   batchID,
		Frequency: batchdomain.Frequency(req.Frequency),
		Duration:  req.Duration,
		Amount:    req.Amount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), s.actorID(c), "batch.settings_updated", "batch", &batchID, map[string]any{
		"frequency": req.Frequency,
		"duration":  req.Duration,
		"amount":    req.Amount,
	})
	c.JSON(http.StatusOK, gin.H{"data": batch})
}

func (s *Server) MarkPayoutPaid(c *gin.Context) {
	batchID := c.Param("batch_id")
	memberID := c.Param("member_id")
	if err := s.batchSvc.MarkPayoutPaid(c.Request.Context(), batchID, memberID); err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.Record(c.Request.Context(), s.actorID(c), "payout.marked_paid", "member", &memberID, map[string]any{
		"batch_id": batchID,
	})
	c.Status(http.StatusNoContent)
}

func (s *Server) BatchSchedule(c *gin.Context) {
	schedule, err := s.batchSvc.Schedule(c.Request.Context(), c.Param("batch_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": schedule})
}

func (s *Server) BatchVerification(c *gin.Context) {
	verification, err := s.batchSvc.Verification(c.Request.Context(), c.Param("batch_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": verification})
}
