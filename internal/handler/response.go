package handler

import (
	"strconv"
	"time"

	"github.com/GoPolymarket/venuegate/internal/pkg/apperrors"
	"github.com/gin-gonic/gin"
)

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"success":   true,
		"data":      data,
		"timestamp": time.Now().UnixMilli(),
	})
}

// fail hands err to ErrorHandler.
func fail(c *gin.Context, err error) {
	c.Error(err)
	c.Abort()
}

func bindErr(err error) error {
	return apperrors.New(apperrors.ErrValidation, "invalid request body", err).WithReason(apperrors.ReasonInvalidInput)
}

func idParam(c *gin.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperrors.NewValidation(apperrors.ReasonInvalidInput, "id must be a positive integer").WithDetail("id", c.Param("id"))
	}
	return id, nil
}

func pageQuery(c *gin.Context) (limit, offset int) {
	limit = 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			offset = parsed
		}
	}
	return limit, offset
}
