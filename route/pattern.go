package route

import (
	"net"
	"strings"
)

type segmentKind int

const (
	segLiteral  segmentKind = iota
	segParam                // {id}: exactly one segment
	segCatchAll             // * or {everything}: zero or more trailing segments
)

type segment struct {
	kind  segmentKind
	value string // literal text or parameter name
}

// pattern is a compiled path template.
type pattern struct {
	segments      []segment
	literalPrefix int // characters before the first placeholder
	caseSensitive bool
}

func compilePattern(template string, caseSensitive bool) pattern {
	p := pattern{caseSensitive: caseSensitive}
	if i := strings.IndexAny(template, "{*"); i >= 0 {
		p.literalPrefix = i
	} else {
		p.literalPrefix = len(template)
	}

	parts := splitPath(template)
	for i, part := range parts {
		last := i == len(parts)-1
		switch {
		case part == "*" && last:
			p.segments = append(p.segments, segment{kind: segCatchAll})
		case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}"):
			name := part[1 : len(part)-1]
			if last && name == "everything" {
				p.segments = append(p.segments, segment{kind: segCatchAll, value: name})
			} else {
				p.segments = append(p.segments, segment{kind: segParam, value: name})
			}
		default:
			if !caseSensitive {
				part = strings.ToLower(part)
			}
			p.segments = append(p.segments, segment{kind: segLiteral, value: part})
		}
	}
	return p
}

func (p pattern) match(path string) bool {
	parts := splitPath(path)
	for i, seg := range p.segments {
		if seg.kind == segCatchAll {
			return true
		}
		if i >= len(parts) {
			return false
		}
		switch seg.kind {
		case segParam:
			if parts[i] == "" {
				return false
			}
		case segLiteral:
			part := parts[i]
			if !p.caseSensitive {
				part = strings.ToLower(part)
			}
			if part != seg.value {
				return false
			}
		}
	}
	return len(parts) == len(p.segments)
}

// splitPath splits "/a/b/" into ["a", "b"]; "/" yields no segments.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// hostMatcher matches an exact host or a "*." suffix, ignoring case and port.
type hostMatcher struct {
	host     string
	wildcard bool
}

func compileHost(template string) hostMatcher {
	h := strings.ToLower(template)
	if rest, ok := strings.CutPrefix(h, "*."); ok {
		return hostMatcher{host: "." + rest, wildcard: true}
	}
	return hostMatcher{host: h}
}

func (m hostMatcher) any() bool { return m.host == "" }

func (m hostMatcher) match(host string) bool {
	if m.any() {
		return true
	}
	host = strings.ToLower(stripPort(host))
	if m.wildcard {
		return strings.HasSuffix(host, m.host) && len(host) > len(m.host)
	}
	return host == m.host
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
