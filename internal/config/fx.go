package config

import "go.uber.org/fx"

// Module provides the process-wide Config loaded once from the environment.
// A Config that fails Validate is returned as a provider error, which fails
// fx startup.
var Module = fx.Module("config",
	fx.Provide(loadAndValidate),
)

func loadAndValidate() (Config, error) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
