package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moyoez/docdrop/tool"
	"github.com/moyoez/docdrop/types"
)

var errorStatus = []struct {
	err    error
	status int
}{
	{types.ErrInvalidInit, http.StatusBadRequest},
	{types.ErrSessionNotFound, http.StatusNotFound},
	{types.ErrChunkOutOfRange, http.StatusBadRequest},
	{types.ErrTotalChunksMismatch, http.StatusBadRequest},
	{types.ErrChunkTooLarge, http.StatusRequestEntityTooLarge},
	{types.ErrSessionNotCollecting, http.StatusConflict},
	{types.ErrIncompleteUpload, http.StatusConflict},
	{types.ErrSizeMismatch, http.StatusUnprocessableEntity},
	{types.ErrFileNotFound, http.StatusNotFound},
	{types.ErrEmptyQuestion, http.StatusBadRequest},
}

// StatusFor maps a domain error to its HTTP status. Unknown errors are 500.
func StatusFor(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// respondError writes err with its mapped status. Internal errors are logged and
// their detail is not sent to the caller.
func respondError(c *gin.Context, tag string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		tool.DefaultLogger.Errorf("%s %v", tag, err)
		c.JSON(status, tool.FastReturnError("Internal server error"))
		return
	}
	tool.DefaultLogger.Debugf("%s %v", tag, err)
	c.JSON(status, tool.FastReturnError(err.Error()))
}
