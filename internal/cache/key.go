package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Canonical is implemented by request types that can be fingerprinted.
type Canonical interface {
	CacheKeyPrefix() string
	CanonicalParams() map[string]any
}

func KeyOf(c Canonical) string {
	if c == nil {
		return ""
	}
	return Fingerprint(c.CacheKeyPrefix(), c.CanonicalParams())
}

// Fingerprint builds prefix|name:json|name:json with names sorted, so that parameter
// insertion order never changes the key.
func Fingerprint(prefix string, params map[string]any) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var builder strings.Builder
	builder.Grow(len(prefix) + 16*len(names) + 1)
	builder.WriteString(prefix)
	builder.WriteString("|")
	for i, name := range names {
		if i > 0 {
			builder.WriteString("|")
		}
		builder.WriteString(name)
		builder.WriteString(":")
		builder.WriteString(encodeValue(params[name]))
	}
	return builder.String()
}

func encodeValue(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		// Unencodable values still need a stable, type-qualified form.
		return fmt.Sprintf("%T(%v)", value, value)
	}
	return string(data)
}
