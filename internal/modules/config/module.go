package config

import "go.uber.org/fx"

// Module отдаёт *Config как fx-провайдер.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(
			NewConfig,
		),
	)
}
