package drivers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/feedbridge/backend/internal/domain/channel"
)

// MarketHub settings keys
const (
	markethubSettingAPIURL   = "api_url"
	markethubSettingToken    = "token"
	markethubSettingSellerID = "seller_id"
	markethubSettingTimeout  = "timeout_seconds"
)

// MarketHubConfig is the typed configuration for one marketplace aggregator
// channel, decoded once from the channel's raw settings
type MarketHubConfig struct {
	APIURL         string
	Token          string
	SellerID       string
	RequestTimeout time.Duration
}

// NewMarketHubConfig decodes and validates a channel's settings
func NewMarketHubConfig(ch *channel.SalesChannel) (*MarketHubConfig, error) {
	cfg := &MarketHubConfig{
		APIURL:         strings.TrimRight(ch.Setting(markethubSettingAPIURL), "/"),
		Token:          ch.Setting(markethubSettingToken),
		SellerID:       ch.Setting(markethubSettingSellerID),
		RequestTimeout: 60 * time.Second,
	}

	if raw := ch.Setting(markethubSettingTimeout); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("%w: markethub timeout_seconds %q", channel.ErrInvalidConfig, raw)
		}
		cfg.RequestTimeout = time.Duration(secs) * time.Second
	}

	if cfg.APIURL == "" {
		return nil, fmt.Errorf("%w: markethub channel %s has no api_url", channel.ErrInvalidConfig, ch.Name)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: markethub channel %s has no token", channel.ErrInvalidConfig, ch.Name)
	}
	if cfg.SellerID == "" {
		return nil, fmt.Errorf("%w: markethub channel %s has no seller_id", channel.ErrInvalidConfig, ch.Name)
	}
	return cfg, nil
}

func (c *MarketHubConfig) headers() map[string]string {
	return map[string]string{
		"X-Api-Token": c.Token,
		"X-Seller-Id": c.SellerID,
	}
}
