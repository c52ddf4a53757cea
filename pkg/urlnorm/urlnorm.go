// Package urlnorm implements the URL canonicalization rules the crawl
// worker relies on for dedup, depth tracking, and export watermarking.
package urlnorm

import (
	"net/url"
	"sort"
	"strings"
)

// AllowlistParam controls which query parameters survive normalization.
// The zero value strips every query parameter (spec default: empty
// allowlist). Keep names pagination-style parameters a deployment wants
// preserved (e.g. "page").
type AllowlistParam struct {
	Keep map[string]struct{}
}

// NewAllowlistParam builds an AllowlistParam from a list of parameter names
// to keep; an empty or nil list strips all query parameters.
func NewAllowlistParam(keep ...string) AllowlistParam {
	m := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		m[lowerASCII(k)] = struct{}{}
	}
	return AllowlistParam{Keep: m}
}

// Canonicalize applies a deterministic normalization to a URL, producing a
// canonical form suitable for dedup.
//
// The normalization follows these rules:
//   - Scheme and host are lowercased
//   - Path is cleaned (trailing slashes removed, except for root "/")
//   - Fragments are removed
//   - Query parameters not in the allowlist are dropped; surviving
//     parameters are sorted by key for a stable representation
//   - Default ports are omitted (e.g., :80 for http, :443 for https)
//
// Properties:
//   - Pure: no state, no memory
//   - Deterministic: same input always produces same output
//   - Idempotent: Canonicalize(Canonicalize(u, p), p) == Canonicalize(u, p)
//   - Context-free: does not depend on crawl history
func Canonicalize(sourceUrl url.URL, allowlist AllowlistParam) url.URL {
	canonical := sourceUrl

	canonical.Scheme = lowerASCII(canonical.Scheme)
	canonical.Host = lowerASCII(canonical.Host)

	if host, port := canonical.Hostname(), canonical.Port(); port != "" {
		if (canonical.Scheme == "http" && port == "80") ||
			(canonical.Scheme == "https" && port == "443") {
			canonical.Host = host
		}
	}

	if len(canonical.Path) > 1 {
		canonical.Path = stripTrailingSlash(canonical.Path)
	}

	canonical.Fragment = ""
	canonical.RawFragment = ""

	canonical.RawQuery = filterQuery(canonical.Query(), allowlist)
	canonical.ForceQuery = false

	return canonical
}

// NormalizeString parses raw, canonicalizes it, and returns the normalized
// string form. A parse failure returns raw unchanged with ok=false.
func NormalizeString(raw string, allowlist AllowlistParam) (string, bool) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw, false
	}
	canonical := Canonicalize(*parsed, allowlist)
	return canonical.String(), true
}

func filterQuery(values url.Values, allowlist AllowlistParam) string {
	if len(values) == 0 {
		return ""
	}

	kept := url.Values{}
	for key, vals := range values {
		if _, ok := allowlist.Keep[lowerASCII(key)]; ok {
			kept[key] = vals
		}
	}
	if len(kept) == 0 {
		return ""
	}

	keys := make([]string, 0, len(kept))
	for k := range kept {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		vals := kept[k]
		sort.Strings(vals)
		for j, v := range vals {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// lowerASCII converts ASCII characters to lowercase without allocating
// unless the input actually contains uppercase bytes.
func lowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// stripTrailingSlash removes trailing slashes from a path, preserving root.
func stripTrailingSlash(path string) string {
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}
