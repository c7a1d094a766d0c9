package client

import (
	"net/url"
	"strings"

	"github.com/Sternrassler/apigate/pkg/config"
)

// UpstreamAPI is the capability interface one API variant implements.
// The engine depends only on this interface, never on concrete vendor
// clients.
type UpstreamAPI interface {
	// BaseURL returns the API root, without a trailing slash.
	BaseURL() string

	// CleanEndpointPath normalizes an endpoint to the path segment the
	// variant expects.
	CleanEndpointPath(endpoint string) string

	// ClientFields returns vendor-specific fields added to every
	// outgoing request (e.g. authentication parameters). They are not
	// part of the cache key: the client name already namespaces it.
	ClientFields() map[string]string
}

// ConfigAPI is the default UpstreamAPI, driven entirely by the client's
// configuration: versioned path, api_key sent as a query parameter.
type ConfigAPI struct {
	cfg *config.ClientConfig
}

// NewConfigAPI builds the default API variant for a client config.
func NewConfigAPI(cfg *config.ClientConfig) *ConfigAPI {
	return &ConfigAPI{cfg: cfg}
}

// BaseURL returns the configured API root.
func (a *ConfigAPI) BaseURL() string {
	return strings.TrimRight(a.cfg.BaseURL, "/")
}

// CleanEndpointPath prefixes the version segment when configured.
func (a *ConfigAPI) CleanEndpointPath(endpoint string) string {
	endpoint = "/" + strings.Trim(endpoint, "/")
	if a.cfg.Version != "" {
		return "/" + a.cfg.Version + endpoint
	}
	return endpoint
}

// ClientFields returns the authentication parameter for the client.
func (a *ConfigAPI) ClientFields() map[string]string {
	if a.cfg.APIKey == "" {
		return nil
	}
	return map[string]string{"api_key": a.cfg.APIKey}
}

// buildQuery renders normalized scalar params plus client fields as the
// wire query string for body-less methods.
func buildQuery(params map[string]any, fields map[string]string) url.Values {
	q := url.Values{}
	for k, v := range params {
		if s, ok := v.(string); ok {
			q.Set(k, s)
		}
	}
	for k, v := range fields {
		q.Set(k, v)
	}
	return q
}

var _ UpstreamAPI = (*ConfigAPI)(nil)
