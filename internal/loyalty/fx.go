package loyalty

import (
	"github.com/posbridge/posbridge/internal/loyalty/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("loyalty",
	fx.Provide(repository.Provide),
)
