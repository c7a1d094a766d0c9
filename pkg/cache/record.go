// Package cache defines the cached response record and the storage
// contract it is persisted under. Records are namespaced per client and
// keyed by request fingerprint; expiry is lazy — an expired record is a
// miss on read and is physically removed only by an explicit sweep.
package cache

import (
	"time"
)

// Record is one cached request/response pair.
//
// RequestHeaders, RequestBody, ResponseHeaders and ResponseBody are raw
// bytes; when the owning client has compression enabled the response
// fields hold gzip payloads and are decoded by the manager on read.
type Record struct {
	// Key is the request fingerprint, unique within a client namespace.
	Key string `json:"key"`

	// Client is the owning client name.
	Client string `json:"client"`

	// Version is the API version the response was fetched under.
	Version string `json:"version"`

	// Endpoint is the upstream endpoint path.
	Endpoint string `json:"endpoint"`

	// BaseURL is the upstream API root at fetch time.
	BaseURL string `json:"base_url"`

	// FullURL is the fully resolved request URL.
	FullURL string `json:"full_url"`

	// Method is the HTTP method.
	Method string `json:"method"`

	RequestHeaders  []byte `json:"request_headers,omitempty"`
	RequestBody     []byte `json:"request_body,omitempty"`
	ResponseHeaders []byte `json:"response_headers,omitempty"`
	ResponseBody    []byte `json:"response_body,omitempty"`

	// StatusCode is the upstream HTTP status.
	StatusCode int `json:"status_code"`

	// ResponseSize is the uncompressed response body size in bytes.
	ResponseSize int64 `json:"response_size"`

	// ResponseTime is the upstream call duration in seconds.
	ResponseTime float64 `json:"response_time"`

	// ExpiresAt is when the record stops being served.
	// Nil means the record never expires.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the record has passed its expiry at time now.
// Records without an ExpiresAt never expire.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// TTL returns the remaining lifetime at time now. Returns 0 when expired
// and a negative-free view of never-expiring records via ok=false.
func (r *Record) TTL(now time.Time) (ttl time.Duration, ok bool) {
	if r.ExpiresAt == nil {
		return 0, false
	}
	ttl = r.ExpiresAt.Sub(now)
	if ttl < 0 {
		ttl = 0
	}
	return ttl, true
}
