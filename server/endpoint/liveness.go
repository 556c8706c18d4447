package endpoint

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Liveness answers 200 while the admin router can serve at all. It ignores
// upstream and registry state: a gateway with no healthy backends is still
// alive and must not be restarted for it.
func Liveness(serviceName string, since time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "alive",
			"service":        serviceName,
			"uptime_seconds": int64(time.Since(since).Seconds()),
		})
	}
}
