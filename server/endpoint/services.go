package endpoint

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/meshgate/discovery"
)

// ServiceSource reports the cached instances of every tracked service.
type ServiceSource interface {
	Status() []discovery.ServiceStatus
}

// Services returns a handler listing the instance cache.
func Services(source ServiceSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"services": source.Status()})
	}
}
