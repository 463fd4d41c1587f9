//go:build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	"backsim/internal/config"
)

func buildAppWithWire(ctx context.Context, cfg *config.Config) (*App, error) {
	wire.Build(
		provideAppBuilder,
		provideAppFromBuilder,
	)
	return nil, nil
}
