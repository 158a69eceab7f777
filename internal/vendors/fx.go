package vendors

import (
	"github.com/posbridge/posbridge/internal/vendors/repository"
	"github.com/posbridge/posbridge/internal/vendors/service"
	"go.uber.org/fx"
)

var Module = fx.Module("vendors.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
