package endpoint

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/meshgate/resilience"
	"github.com/kbukum/meshgate/route"
)

// RouteSource lists the configured routes.
type RouteSource interface {
	Routes() []route.Route
}

// BreakerSource reports the state of a route's circuit breaker.
type BreakerSource interface {
	Snapshot() []resilience.Snapshot
}

// RouteStatus is one row of the routes endpoint.
type RouteStatus struct {
	route.Route
	Breaker resilience.Snapshot `json:"breaker"`
}

// Routes returns a handler listing the route table in match order, each with
// its breaker. Routes that have not been called yet report a closed breaker.
func Routes(routes RouteSource, breakers BreakerSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		byName := make(map[string]resilience.Snapshot)
		if breakers != nil {
			for _, s := range breakers.Snapshot() {
				byName[s.Name] = s
			}
		}

		list := routes.Routes()
		out := make([]RouteStatus, 0, len(list))
		for _, rt := range list {
			snap, ok := byName[rt.Name]
			if !ok {
				snap = resilience.Snapshot{Name: rt.Name, State: resilience.StateClosed}
			}
			out = append(out, RouteStatus{Route: rt, Breaker: snap})
		}
		c.JSON(http.StatusOK, gin.H{"routes": out})
	}
}
