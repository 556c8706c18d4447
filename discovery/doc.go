// Package discovery tracks backend service instances.
//
//   - Discovery: the registry boundary (point query and watch stream)
//   - Registry: self-registration of the gateway
//   - InstanceCache: per-service snapshot of healthy instances, refreshed in
//     the background and cleared once it has been stale for too long
//   - Component: builds the configured provider and registers the gateway
//
// Providers live in subpackages and register a factory on import:
//
//	import _ "github.com/kbukum/meshgate/discovery/consul"
//	import _ "github.com/kbukum/meshgate/discovery/static"
package discovery
