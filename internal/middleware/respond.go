package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mongoreindex/mongoreindex"
)

// Respond writes v as JSON with status 200, or translates err into the
// appropriate HTTP status and body if non-nil. Shared by every controller
// so error translation happens in exactly one place.
func Respond(c *gin.Context, v any, err error) {
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if v == nil {
		c.Status(http.StatusOK)
		return
	}
	c.JSON(http.StatusOK, v)
}

func statusFor(err error) int {
	if errors.Is(err, mongoreindex.ErrNotFound) {
		return http.StatusNotFound
	}
	switch mongoreindex.ExitCodeFor(err) {
	case 2:
		return http.StatusConflict
	case 3:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}
