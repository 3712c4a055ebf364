package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokotalk/tokotalk/pkg/services"
)

// respondError translates service errors into HTTP status codes. Anything
// unmapped is a 500 and gets logged with its real cause; the client only
// sees a generic message.
func (s *Server) respondError(c *gin.Context, err error) {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "field": ve.Field})
	case errors.Is(err, services.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrAlreadyExists),
		errors.Is(err, services.ErrIllegalTransition),
		errors.Is(err, services.ErrOrderLocked),
		errors.Is(err, services.ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.logger.Error("Request handler failed",
			"path", c.FullPath(), "method", c.Request.Method, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
