// Package middleware holds the gin middleware shared by the target CRUD
// surface and the alarm webhook.
package middleware

import (
	"github.com/gin-gonic/gin"
)

// Authentication is the mount point for request authentication on the
// service's routes. The monitoring core itself does not authenticate
// callers, so it currently passes every request through.
func Authentication(c *gin.Context) {
	c.Next()
}
