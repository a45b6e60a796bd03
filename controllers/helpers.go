package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"pos-service/services"

	"github.com/gin-gonic/gin"
)

// respondError writes err as {"error": message} with its mapped status code.
// Unexpected errors are attached to the gin context for the request logger.
func respondError(c *gin.Context, err error) {
	status, message := errorResponse(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": message})
}

func errorResponse(err error) (int, string) {
	status := services.StatusCode(err)
	var se *services.ServiceError
	if errors.As(err, &se) && se.Message != "" {
		return status, se.Message
	}
	return status, http.StatusText(status)
}

// parsePaginationParams extracts and validates page/limit query params.
func parsePaginationParams(ctx *gin.Context) (int, int) {
	const maxLimit = 100
	pageInt, limitInt := 1, 10
	if p, err := strconv.Atoi(ctx.DefaultQuery("page", "1")); err == nil && p > 0 {
		pageInt = p
	}
	if l, err := strconv.Atoi(ctx.DefaultQuery("limit", "10")); err == nil && l > 0 {
		if l > maxLimit {
			l = maxLimit
		}
		limitInt = l
	}
	return pageInt, limitInt
}
