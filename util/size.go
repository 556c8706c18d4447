package util

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

var sizeUnits = []struct {
	suffix string
	factor int64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// ParseByteSize parses sizes such as "10MB", "512kb" or "1048576" used by
// max_body_size and cache limits. Units are binary (1KB = 1024 bytes).
func ParseByteSize(s string) (int64, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "" {
		return 0, fmt.Errorf("empty size")
	}
	factor := int64(1)
	for _, u := range sizeUnits {
		if n, ok := strings.CutSuffix(v, u.suffix); ok {
			v, factor = strings.TrimSpace(n), u.factor
			break
		}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n > math.MaxInt64/factor {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return n * factor, nil
}

// MaskToken keeps the first visible characters of a credential for logs.
// Tokens not longer than visible are hidden entirely.
func MaskToken(token string, visible int) string {
	if len(token) <= visible {
		return "***"
	}
	return token[:visible] + "***"
}
