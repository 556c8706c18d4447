package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kbukum/meshgate/component"
)

// RouteInfo is one proxied route in the startup summary.
type RouteInfo struct {
	Name    string
	Path    string
	Service string
}

// Summary collects what the gateway started with and prints it once.
type Summary struct {
	serviceName     string
	version         string
	startupDuration time.Duration
	routes          []RouteInfo
	out             io.Writer
}

// NewSummary creates a summary printed to stdout.
func NewSummary(serviceName, version string) *Summary {
	return &Summary{serviceName: serviceName, version: version, out: os.Stdout}
}

// SetStartupDuration records how long startup took.
func (s *Summary) SetStartupDuration(d time.Duration) {
	s.startupDuration = d
}

// TrackRoute adds a route to the summary.
func (s *Summary) TrackRoute(name, path, service string) {
	s.routes = append(s.routes, RouteInfo{Name: name, Path: path, Service: service})
}

// Display prints the summary, with live health from registry.
func (s *Summary) Display(ctx context.Context, registry *component.Registry) {
	w := s.out
	fmt.Fprintf(w, "\n🚀 %s v%s started in %.2fs\n\n", s.serviceName, s.version, s.startupDuration.Seconds())

	if registry != nil {
		components := registry.All()
		healths := registry.HealthAll(ctx)
		if len(components) > 0 {
			fmt.Fprintf(w, "📦 Components\n")
			for i, c := range components {
				line := c.Name()
				if d, ok := c.(component.Describable); ok {
					desc := d.Describe()
					line = fmt.Sprintf("%s [%s] %s", c.Name(), desc.Type, desc.Details)
				}
				h := healths[i]
				msg := ""
				if h.Message != "" {
					msg = " (" + h.Message + ")"
				}
				fmt.Fprintf(w, "   %s %s %s: %s%s\n", treePrefix(i, len(components)), healthStatusIcon(h.Status), line,
					strings.ToLower(string(h.Status)), msg)
			}
			fmt.Fprintf(w, "\n")
			if overall := component.Overall(healths); overall == component.StatusHealthy {
				fmt.Fprintf(w, "✅ All components healthy (%d/%d)\n", len(healths), len(healths))
			} else {
				fmt.Fprintf(w, "⚠️  Gateway is %s\n", overall)
			}
		}
	}

	if len(s.routes) > 0 {
		fmt.Fprintf(w, "\n🌐 Routes (%d)\n", len(s.routes))
		for i, r := range s.routes {
			fmt.Fprintf(w, "   %s %-16s %s → %s\n", treePrefix(i, len(s.routes)), r.Name, r.Path, r.Service)
		}
	}
	fmt.Fprintf(w, "\n")
}

func treePrefix(i, n int) string {
	if i == n-1 {
		return "└──"
	}
	return "├──"
}

func healthStatusIcon(status component.HealthStatus) string {
	switch status {
	case component.StatusHealthy:
		return "✅"
	case component.StatusDegraded:
		return "⚠️"
	case component.StatusUnhealthy:
		return "❌"
	default:
		return "❓"
	}
}
