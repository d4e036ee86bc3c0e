package drivers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/feedbridge/backend/internal/domain/channel"
)

// Storefront settings keys
const (
	storefrontSettingAPIURL  = "api_url"
	storefrontSettingAPIKey  = "api_key"
	storefrontSettingTimeout = "timeout_seconds"
)

// StorefrontConfig is the typed configuration for one storefront channel,
// decoded once from the channel's raw settings
type StorefrontConfig struct {
	APIURL         string
	APIKey         string
	RequestTimeout time.Duration
}

// NewStorefrontConfig decodes and validates a channel's settings.
// Validation fails fast at channel load time, not per field at call time.
func NewStorefrontConfig(ch *channel.SalesChannel) (*StorefrontConfig, error) {
	cfg := &StorefrontConfig{
		APIURL:         strings.TrimRight(ch.Setting(storefrontSettingAPIURL), "/"),
		APIKey:         ch.Setting(storefrontSettingAPIKey),
		RequestTimeout: 30 * time.Second,
	}

	if raw := ch.Setting(storefrontSettingTimeout); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("%w: storefront timeout_seconds %q", channel.ErrInvalidConfig, raw)
		}
		cfg.RequestTimeout = time.Duration(secs) * time.Second
	}

	if cfg.APIURL == "" {
		return nil, fmt.Errorf("%w: storefront channel %s has no api_url", channel.ErrInvalidConfig, ch.Name)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: storefront channel %s has no api_key", channel.ErrInvalidConfig, ch.Name)
	}
	return cfg, nil
}

// headers returns the auth headers every storefront call carries
func (c *StorefrontConfig) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.APIKey}
}
