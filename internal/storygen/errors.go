package storygen

import (
	"fmt"
	"strings"
)

// ConfigurationError reports corrupt or missing template data. It is fatal for
// the request and indicates a deployment problem rather than bad user input.
type ConfigurationError struct {
	Pool   string
	Theme  string
	Tier   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return "storygen: configuration error"
	}
	parts := make([]string, 0, 3)
	if e.Pool != "" {
		parts = append(parts, "pool="+e.Pool)
	}
	if e.Theme != "" {
		parts = append(parts, "theme="+e.Theme)
	}
	if e.Tier != "" {
		parts = append(parts, "tier="+e.Tier)
	}
	reason := e.Reason
	if reason == "" {
		reason = "empty pool"
	}
	if len(parts) == 0 {
		return fmt.Sprintf("storygen: configuration error: %s", reason)
	}
	return fmt.Sprintf("storygen: configuration error (%s): %s", strings.Join(parts, " "), reason)
}

func emptyPool(pool, theme, tier string) *ConfigurationError {
	return &ConfigurationError{Pool: pool, Theme: theme, Tier: tier, Reason: "empty pool"}
}
