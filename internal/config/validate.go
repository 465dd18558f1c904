package config

import (
	"fmt"
	"net"
	"strings"
	"unicode"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validLogFormats = map[string]bool{
	"console": true,
	"json":    true,
}

// Validate checks the config for invalid values and returns all errors found.
// Values that would break startup are reset to defaults; every adjustment is
// reported.
func (c *Config) Validate() []error {
	var errs []error
	def := Default()

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error; using %q", c.Log.Level, def.Log.Level))
		c.Log.Level = def.Log.Level
	}
	if !validLogFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, fmt.Errorf("log.format %q is not console or json; using %q", c.Log.Format, def.Log.Format))
		c.Log.Format = def.Log.Format
	}

	if c.API.Listen != "" && net.ParseIP(c.API.Listen) == nil && c.API.Listen != "localhost" {
		errs = append(errs, fmt.Errorf("api.listen %q is not an IP address; using %q", c.API.Listen, def.API.Listen))
		c.API.Listen = def.API.Listen
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port %d out of range; using %d", c.API.Port, def.API.Port))
		c.API.Port = def.API.Port
	}
	for _, r := range c.API.Token {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			errs = append(errs, fmt.Errorf("api.token contains whitespace or control characters"))
			break
		}
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("api.rate_limit %v is negative; disabling the limit", c.API.RateLimit))
		c.API.RateLimit = 0
	}
	if c.API.RateLimit > 0 && c.API.Burst < 1 {
		errs = append(errs, fmt.Errorf("api.burst %d must be at least 1 when rate_limit is set; clamping", c.API.Burst))
		c.API.Burst = 1
	}

	if c.UDP.Port < 1 || c.UDP.Port > 65535 {
		errs = append(errs, fmt.Errorf("udp.port %d out of range; using %d", c.UDP.Port, def.UDP.Port))
		c.UDP.Port = def.UDP.Port
	}
	if c.UDP.Enabled && c.API.Enabled && c.UDP.Port == c.API.Port {
		errs = append(errs, fmt.Errorf("udp.port %d equals api.port", c.UDP.Port))
	}

	if c.DryRun.Width <= 0 || c.DryRun.Height <= 0 {
		errs = append(errs, fmt.Errorf("dry_run extent %dx%d must be positive; using %dx%d",
			c.DryRun.Width, c.DryRun.Height, def.DryRun.Width, def.DryRun.Height))
		c.DryRun.Width = def.DryRun.Width
		c.DryRun.Height = def.DryRun.Height
	}

	return errs
}
