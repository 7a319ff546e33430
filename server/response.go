package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/meshkit/errors"
)

// RespondWithError translates err with errors.FromError and writes the
// standard error envelope with the matching status.
func RespondWithError(c *gin.Context, err error) {
	appErr := errors.FromError(err)
	c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.ToResponse())
}

// RespondOK sends a 200 response with data as the body.
func RespondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// RespondCreated sends a 201 response with data as the body.
func RespondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, data)
}

// RespondNoContent sends a 204 with no body.
func RespondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
