package tool

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// OwnerHeader scopes files and queries to a caller. There is no authentication.
const (
	OwnerHeader  = "X-Owner"
	DefaultOwner = "default"
)

func FastReturnError(msg string) gin.H {
	return gin.H{
		"error": msg,
	}
}

func FastReturnSuccess() gin.H {
	return gin.H{
		"status": "ok",
	}
}

// OwnerFromContext returns the caller scope taken from the X-Owner header.
func OwnerFromContext(c *gin.Context) string {
	owner := strings.TrimSpace(c.GetHeader(OwnerHeader))
	if owner == "" {
		return DefaultOwner
	}
	return owner
}
