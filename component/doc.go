// Package component defines the lifecycle contract shared by the gateway's
// long-running parts (instance cache, discovery, HTTP server, cache store)
// and a Registry that starts them in order and stops them in reverse.
package component
