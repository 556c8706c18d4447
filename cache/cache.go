// Package cache stores upstream responses of GET routes for a per-route TTL.
//
// Two stores are available: "memory" (per gateway process) and "redis"
// (shared between gateway replicas).
package cache

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"
)

// Entry is a cached upstream response.
type Entry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
	// Vary lists the request headers the response varies on. An entry with
	// Vary and no Status is an index: the response itself is stored under
	// VariantKey.
	Vary []string `json:"vary,omitempty"`
}

// IsIndex reports whether e only points at per-variant entries.
func (e *Entry) IsIndex() bool {
	return e.Status == 0 && len(e.Vary) > 0
}

// Store is a response cache backend.
type Store interface {
	// Get returns the entry for key, or (nil, nil) on a miss.
	Get(ctx context.Context, key string) (*Entry, error)
	// Set stores e for ttl.
	Set(ctx context.Context, key string, e *Entry, ttl time.Duration) error
	// Delete removes key.
	Delete(ctx context.Context, key string) error
}

// Key builds the cache key of a request on a route. Requests differing in
// host, path, query or Accept header are cached separately.
func Key(routeName string, r *http.Request) string {
	var b strings.Builder
	b.WriteString(routeName)
	b.WriteByte('|')
	b.WriteString(r.Method)
	b.WriteByte('|')
	b.WriteString(strings.ToLower(r.Host))
	b.WriteByte('|')
	b.WriteString(r.URL.RequestURI())
	if accept := r.Header.Get("Accept"); accept != "" {
		b.WriteByte('|')
		b.WriteString(accept)
	}
	return b.String()
}

// Cacheable reports whether a request may be answered from the cache.
func Cacheable(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	cc := strings.ToLower(r.Header.Get("Cache-Control"))
	return !strings.Contains(cc, "no-cache") && !strings.Contains(cc, "no-store")
}

// Storable reports whether the upstream response to r may be stored in a
// shared cache. Responses to requests carrying Authorization are stored only
// when the upstream marks them public, s-maxage or must-revalidate.
func Storable(r *http.Request, status int, h http.Header) bool {
	if status < 200 || status >= 300 || status == http.StatusPartialContent {
		return false
	}
	if h.Get("Set-Cookie") != "" {
		return false
	}
	if _, ok := VaryHeaders(h); !ok {
		return false
	}
	cc := strings.ToLower(strings.Join(h.Values("Cache-Control"), ","))
	if strings.Contains(cc, "no-store") || strings.Contains(cc, "private") {
		return false
	}
	if r.Header.Get("Authorization") != "" {
		return strings.Contains(cc, "public") ||
			strings.Contains(cc, "s-maxage") ||
			strings.Contains(cc, "must-revalidate")
	}
	return true
}

// VaryHeaders returns the canonical, sorted header names listed in the
// response's Vary header. ok is false for "Vary: *", which is never stored.
func VaryHeaders(h http.Header) (names []string, ok bool) {
	for _, v := range h.Values("Vary") {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			switch name {
			case "":
				continue
			case "*":
				return nil, false
			}
			names = append(names, http.CanonicalHeaderKey(name))
		}
	}
	slices.Sort(names)
	return slices.Compact(names), true
}

// VariantKey extends key with r's values of the vary headers.
func VariantKey(key string, vary []string, r *http.Request) string {
	var b strings.Builder
	b.WriteString(key)
	for _, name := range vary {
		b.WriteString("|")
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strings.Join(r.Header.Values(name), ","))
	}
	return b.String()
}
