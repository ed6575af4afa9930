package config

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty" validate:"oneof=debug info warn error"`
	Format     string          `yaml:"format" json:"format,omitempty" validate:"oneof=json console"`
	File       string          `yaml:"file" json:"file,omitempty"`             // empty = stderr
	Categories map[string]bool `yaml:"categories" json:"categories,omitempty"` // Per-category toggles
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Categories that are not listed are enabled.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

// OutputPaths returns the zap output paths for this configuration.
func (c *LoggingConfig) OutputPaths() []string {
	if c.File == "" {
		return []string{"stderr"}
	}
	return []string{c.File}
}
