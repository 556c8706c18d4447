// Package version reports build information set through ldflags or read
// from the Go toolchain's embedded VCS data.
package version
