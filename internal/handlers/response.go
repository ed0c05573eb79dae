package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reelkit/reelkit-backend/internal/apierr"
	"github.com/reelkit/reelkit-backend/internal/logger"
)

// APIError is the wire shape of every error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondError maps service errors onto the closed error-code set. Anything
// that is not an *apierr.Error becomes a 500 with the detail kept out of the
// response body.
func RespondError(c *gin.Context, log *logger.Logger, err error) {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		status := ae.Status
		if status == 0 {
			status = http.StatusInternalServerError
		}
		code := ae.Code
		if code == "" {
			code = apierr.CodeInternal
		}
		c.JSON(status, ErrorEnvelope{Error: APIError{Code: code, Message: ae.Error()}})
		return
	}
	log.Error("Unhandled error", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, ErrorEnvelope{
		Error: APIError{Code: apierr.CodeInternal, Message: "internal error"},
	})
}
