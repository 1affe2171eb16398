package secrets

import (
	"github.com/smallbiznis/platformd/internal/config"
	"go.uber.org/fx"
)

func provideParams(cfg config.Config) Params {
	return Params{
		Time:    cfg.Argon2Time,
		Memory:  cfg.Argon2Memory,
		Threads: cfg.Argon2Threads,
		KeyLen:  cfg.Argon2KeyLen,
	}
}

// Module provides the shared Argon2id Hasher.
var Module = fx.Module("secrets",
	fx.Provide(provideParams, New),
)
