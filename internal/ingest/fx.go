package ingest

import (
	"github.com/posbridge/posbridge/internal/ingest/domain"
	"github.com/posbridge/posbridge/internal/ingest/repository"
	"github.com/posbridge/posbridge/internal/ingest/service"
	jobdomain "github.com/posbridge/posbridge/internal/jobqueue/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("ingest.service",
	fx.Provide(repository.Provide),
	fx.Provide(
		service.New,
		func(s *service.Service) domain.Service { return s },
		func(s *service.Service) jobdomain.Processor { return s },
	),
)
