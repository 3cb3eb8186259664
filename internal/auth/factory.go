package auth

import (
	"fmt"

	"pqi-go/internal/config"
	"pqi-go/internal/pqi"
)

// NewTokenSourceFromConfig creates a TokenSource based on the auth config type.
func NewTokenSourceFromConfig(cfg config.AuthConfig, clock pqi.Clock, logger pqi.Logger) (pqi.TokenSource, error) {
	switch cfg.Type {
	case "oauth", "":
		if cfg.TokenURL == "" || cfg.ClientID == "" || cfg.ClientSecretPath == "" {
			return nil, fmt.Errorf("oauth auth requires token_url, client_id, and client_secret_path")
		}
		var cache *TokenCache
		if cfg.TokenCachePath != "" && cfg.PublicKeyPath != "" && cfg.PrivateKeyPath != "" {
			cache = NewTokenCache(cfg.TokenCachePath, cfg.PublicKeyPath, cfg.PrivateKeyPath)
		}
		return NewHTTPTokenSource(cfg.TokenURL, cfg.ClientID, cfg.ClientSecretPath, cache, clock, logger), nil
	case "static":
		if cfg.StaticToken == "" {
			return nil, fmt.Errorf("static auth requires static_token")
		}
		return NewStaticTokenSource(cfg.StaticToken), nil
	default:
		return nil, fmt.Errorf("unknown auth type: %q", cfg.Type)
	}
}
