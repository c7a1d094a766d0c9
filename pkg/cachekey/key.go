// Package cachekey derives deterministic fingerprints for upstream API
// requests. A fingerprint is a SHA-256 hash over the client name, endpoint,
// HTTP method, API version, and a canonical encoding of the request
// parameters, so any permutation of the same logical request maps to the
// same cache key.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Request describes a normalized upstream request for key derivation.
type Request struct {
	// Client is the configured client name.
	Client string

	// Endpoint is the upstream endpoint path (e.g. "/v2/search").
	Endpoint string

	// Method is the HTTP method, uppercased during derivation.
	Method string

	// Version is the API version segment ("" for unversioned APIs).
	Version string

	// Params are the request parameters. Nested maps and slices are
	// normalized recursively.
	Params map[string]any
}

// Derive computes the fingerprint for a request.
//
// The hash input is client || endpoint || method || version || canonical
// params, joined with a separator that cannot occur inside the canonical
// encoding. Pure function: no I/O, no clock, no randomness.
func Derive(req Request) string {
	var b strings.Builder
	b.WriteString(req.Client)
	b.WriteByte('\n')
	b.WriteString(strings.Trim(req.Endpoint, "/"))
	b.WriteByte('\n')
	b.WriteString(strings.ToUpper(req.Method))
	b.WriteByte('\n')
	b.WriteString(req.Version)
	b.WriteByte('\n')
	b.WriteString(Canonical(req.Params))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Canonical renders parameters as canonical JSON: object keys sorted
// lexicographically at every nesting level, values encoded with their JSON
// type preserved (42 and "42" stay distinct).
func Canonical(params map[string]any) string {
	var b strings.Builder
	writeCanonical(&b, params)
	return b.String()
}

// NormalizeParams returns a copy of params with nil values dropped at every
// nesting level. For methods whose parameters travel on the query string
// (GET, HEAD, DELETE), scalar values are additionally coerced to their
// canonical string form, matching how they are sent on the wire.
func NormalizeParams(params map[string]any, method string) map[string]any {
	coerce := false
	switch strings.ToUpper(method) {
	case "GET", "HEAD", "DELETE":
		coerce = true
	}
	normalized := normalizeMap(params, coerce)
	if normalized == nil {
		return map[string]any{}
	}
	return normalized
}

func normalizeMap(m map[string]any, coerce bool) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		nv, keep := normalizeValue(v, coerce)
		if keep {
			out[k] = nv
		}
	}
	return out
}

func normalizeValue(v any, coerce bool) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return normalizeMap(val, coerce), true
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			ni, keep := normalizeValue(item, coerce)
			if keep {
				out = append(out, ni)
			}
		}
		return out, true
	default:
		if coerce {
			return scalarString(val), true
		}
		return val, true
	}
}

// scalarString renders a scalar the way it appears on a query string.
func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		// Whole floats print without a trailing ".0" so 3.0 and 3
		// coerce identically, matching query-string semantics.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeScalar(b, k)
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		writeScalar(b, val)
	}
}

// writeScalar encodes a single scalar as JSON. Marshal cannot fail for the
// scalar types that reach this point; a failure still produces a stable
// token so derivation stays deterministic.
func writeScalar(b *strings.Builder, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.WriteString(fmt.Sprintf("%q", fmt.Sprintf("%v", v)))
		return
	}
	b.Write(data)
}
