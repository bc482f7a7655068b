package facilitator

import (
	"fmt"
	"net/http"

	"settlement-pipeline/config"
	"settlement-pipeline/pkg/logger"

	"github.com/rs/zerolog"
)

// NewFromConfig builds the registry and client from process configuration.
// CDP credentials are optional; without them CDP networks fail per request
// with a configuration error.
func NewFromConfig(cfg config.FacilitatorConfig, log zerolog.Logger) (*Client, error) {
	registry := NewRegistry(RegistryOptions{
		OverrideURL:    cfg.BaseURL,
		DefaultNetwork: cfg.Network,
		VerifyTimeout:  cfg.VerifyTimeout,
		SettleTimeout:  cfg.SettleTimeout,
	})

	opts := []Option{
		WithHTTPClient(&http.Client{}),
		WithAuthenticator(ProviderGeneric, NewAPIKeyAuth(cfg.ProviderAPIKey)),
		WithRetries(cfg.VerifyRetries, cfg.SettleRetries),
		WithBackoff(cfg.RetryBackoff),
		WithLogger(logger.Component(log, "facilitator")),
	}

	if cfg.CDPKeyID != "" || cfg.CDPKeySecret != "" {
		cdp, err := NewCDPAuth(cfg.CDPKeyID, cfg.CDPKeySecret)
		if err != nil {
			return nil, fmt.Errorf("cdp credentials: %w", err)
		}
		opts = append(opts, WithAuthenticator(ProviderCDP, cdp))
	}

	client, err := NewClient(registry, opts...)
	if err != nil {
		return nil, err
	}
	if unserved := client.UnservedNetworks(); len(unserved) > 0 {
		log.Warn().
			Strs("networks", unserved).
			Msg("facilitator credentials missing; settlements on these networks will be released without settling")
	}
	return client, nil
}
