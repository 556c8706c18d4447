// Package util parses configuration values shared by several sections
// (body and cache size limits) and masks credentials before they are logged.
package util
