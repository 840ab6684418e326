package config

// Plugin manifest checks run as part of config validation so a broken
// plugin entry fails at load time, in the same issue list as every other
// config problem, instead of at first plugin use. Each configured entry
// is resolved against its manifest and checked against the declared
// schema.

// PluginValidator allows external packages to inject config validation.
// It should return a slice of issue strings suitable for ConfigValidationError.
type PluginValidator func(*Config) []string

var pluginValidator PluginValidator

// RegisterPluginValidator registers a plugin-aware validator.
// Only one validator may be registered; later calls overwrite earlier ones.
func RegisterPluginValidator(fn PluginValidator) {
	pluginValidator = fn
}

func pluginValidationIssues(cfg *Config) []string {
	if pluginValidator == nil || cfg == nil {
		return nil
	}
	return pluginValidator(cfg)
}
