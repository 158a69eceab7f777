package jobqueue

import (
	"github.com/posbridge/posbridge/internal/jobqueue/repository"
	"github.com/posbridge/posbridge/internal/jobqueue/service"
	"go.uber.org/fx"
)

var Module = fx.Module("jobqueue.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
