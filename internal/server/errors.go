package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	batchdomain "github.com/smallbiznis/sousou/internal/batch/domain"
	"github.com/smallbiznis/sousou/internal/identity"
	membershipdomain "github.com/smallbiznis/sousou/internal/membership/domain"
	profiledomain "github.com/smallbiznis/sousou/internal/profile/domain"
	vaultdomain "github.com/smallbiznis/sousou/internal/vault/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case isUnauthorizedError(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    errorCode(err),
			Message: "validation error",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    errorCode(err),
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    errorCode(err),
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isUnauthorizedError(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, identity.ErrUnauthenticated):
		return true
	default:
		return false
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, batchdomain.ErrInvalidID),
		errors.Is(err, batchdomain.ErrInvalidSettings),
		errors.Is(err, membershipdomain.ErrInvalidMonth),
		errors.Is(err, profiledomain.ErrInvalidName),
		errors.Is(err, profiledomain.ErrInvalidEmail),
		errors.Is(err, profiledomain.ErrInvalidRole),
		errors.Is(err, profiledomain.ErrInvalidID),
		errors.Is(err, profiledomain.ErrInviteRequired),
		errors.Is(err, vaultdomain.ErrEmptyCode),
		errors.Is(err, vaultdomain.ErrInvalidScope):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, batchdomain.ErrBatchNotOpen),
		errors.Is(err, batchdomain.ErrBatchNotLocked),
		errors.Is(err, batchdomain.ErrOpenBatchExists),
		errors.Is(err, membershipdomain.ErrAlreadyMember),
		errors.Is(err, membershipdomain.ErrAlreadyInOpenBatch),
		errors.Is(err, membershipdomain.ErrPaymentNotVerified),
		errors.Is(err, membershipdomain.ErrLeaveRequestPending),
		errors.Is(err, membershipdomain.ErrLeaveRequestResolved),
		errors.Is(err, membershipdomain.ErrMonthFullyBooked),
		errors.Is(err, profiledomain.ErrSelfDeletion),
		errors.Is(err, vaultdomain.ErrInvalidOrUsedCode):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, batchdomain.ErrBatchNotFound),
		errors.Is(err, batchdomain.ErrNoOpenBatch),
		errors.Is(err, batchdomain.ErrMemberNotFound),
		errors.Is(err, membershipdomain.ErrNotAMember),
		errors.Is(err, membershipdomain.ErrLeaveRequestNotFound),
		errors.Is(err, profiledomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	code := err.Error()
	if strings.ContainsAny(code, " \t\n") {
		return ""
	}
	return code
}
