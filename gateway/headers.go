package gateway

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// HeaderRequestID carries the inbound request id upstream.
const HeaderRequestID = "X-Request-Id"

// HeaderCache reports HIT or MISS on cacheable routes.
const HeaderCache = "X-Cache"

// Hop-by-hop headers. They apply to a single connection and are never forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopHeaders deletes hop-by-hop headers, including the ones named in Connection.
func removeHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// setForwarded appends the client address to X-Forwarded-For and records the
// original host and scheme.
func setForwarded(out http.Header, in *http.Request) {
	if ip, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := out.Values("X-Forwarded-For"); len(prior) > 0 {
			ip = strings.Join(prior, ", ") + ", " + ip
		}
		out.Set("X-Forwarded-For", ip)
	}
	if out.Get("X-Forwarded-Host") == "" {
		out.Set("X-Forwarded-Host", in.Host)
	}
	if out.Get("X-Forwarded-Proto") == "" {
		proto := "http"
		if in.TLS != nil {
			proto = "https"
		}
		out.Set("X-Forwarded-Proto", proto)
	}
}

// addVia appends this hop to the Via header.
func addVia(h http.Header, major, minor int, name string) {
	if major == 0 {
		major, minor = 1, 1
	}
	hop := fmt.Sprintf("%d.%d %s", major, minor, name)
	if prior := h.Values("Via"); len(prior) > 0 {
		hop = strings.Join(prior, ", ") + ", " + hop
	}
	h.Set("Via", hop)
}

// idempotent reports whether a request may be sent more than once.
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace,
		http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}
