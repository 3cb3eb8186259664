package gateway

import (
	"context"
	"net/http"
	"time"
)

// probeTimeout keeps the connectivity check snappy; a probe that hangs is as
// good as offline.
const probeTimeout = 3 * time.Second

// HTTPConnectivity reports reachability of the remote system by probing its
// health endpoint. Any response at all counts as online — a 500 still means
// the network path is up.
type HTTPConnectivity struct {
	probeURL string
	client   *http.Client
}

// NewHTTPConnectivity creates a probe against baseURL's health endpoint.
func NewHTTPConnectivity(baseURL string) *HTTPConnectivity {
	return &HTTPConnectivity{
		probeURL: baseURL + "/health",
		client:   &http.Client{Timeout: probeTimeout},
	}
}

// Online reports whether the health endpoint answered.
func (c *HTTPConnectivity) Online(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
