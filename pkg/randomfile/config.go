package randomfile

import (
	"fmt"

	"github.com/fluxorio/randomfile/pkg/config"
)

// Config is the file-level form of Options.
type Config struct {
	Path           string `yaml:"path" json:"path"`
	MaxQueuedBytes int64  `yaml:"max_queued_bytes" json:"max_queued_bytes"`
	SyncOnClose    bool   `yaml:"sync_on_close" json:"sync_on_close"`
	WritableViews  bool   `yaml:"writable_views" json:"writable_views"`
	NoCopy         bool   `yaml:"no_copy" json:"no_copy"`
	// DefaultPolicy is used by callers that take a policy by name and get
	// none, e.g. the daemon. One of throw, grow, wait.
	DefaultPolicy string `yaml:"default_policy" json:"default_policy"`
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	return config.Validate(c,
		config.RequiredFields("Path"),
		config.RangeValidator("MaxQueuedBytes", 0, 1<<62),
		config.OneOfValidator("DefaultPolicy", true, "throw", "grow", "wait"),
	)
}

// Options converts c into Options on top of DefaultOptions.
func (c *Config) Options() Options {
	o := DefaultOptions()
	o.MaxQueuedBytes = c.MaxQueuedBytes
	o.SyncOnClose = c.SyncOnClose
	o.WritableViews = c.WritableViews
	o.NoCopy = c.NoCopy
	return o
}

// Policy parses DefaultPolicy.
func (c *Config) Policy() (Policy, error) {
	return ParsePolicy(c.DefaultPolicy)
}

// LoadConfig reads path (YAML, or JSON by extension) if it exists, applies
// envPrefix_* overrides and validates the result.
func LoadConfig(path, envPrefix string) (*Config, error) {
	var c Config
	if err := config.LoadWithEnv(path, envPrefix, &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("randomfile config: %w", err)
	}
	return &c, nil
}
