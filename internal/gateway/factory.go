package gateway

import (
	"fmt"
	"time"

	"pqi-go/internal/config"
	"pqi-go/internal/pqi"
)

// NewGatewayFromConfig creates the HTTP gateway from the API config section.
func NewGatewayFromConfig(cfg config.APIConfig, tokens pqi.TokenSource, logger pqi.Logger) (*HTTPGateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url required for api")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewHTTPGateway(cfg.BaseURL, timeout, tokens, logger), nil
}
