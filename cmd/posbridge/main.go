package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/posbridge/posbridge/internal/clock"
	"github.com/posbridge/posbridge/internal/config"
	"github.com/posbridge/posbridge/internal/ingest"
	"github.com/posbridge/posbridge/internal/jobqueue"
	"github.com/posbridge/posbridge/internal/logger"
	"github.com/posbridge/posbridge/internal/loyalty"
	"github.com/posbridge/posbridge/internal/migration"
	"github.com/posbridge/posbridge/internal/observability"
	"github.com/posbridge/posbridge/internal/pos"
	"github.com/posbridge/posbridge/internal/providers/email"
	"github.com/posbridge/posbridge/internal/ratelimit"
	"github.com/posbridge/posbridge/internal/reconcile"
	"github.com/posbridge/posbridge/internal/scheduler"
	"github.com/posbridge/posbridge/internal/server"
	"github.com/posbridge/posbridge/internal/vendors"
	"github.com/posbridge/posbridge/internal/webhook"
	"github.com/posbridge/posbridge/pkg/db"
	"go.uber.org/fx"
)

// The posbridge binary runs everything in one process: HTTP ingestion,
// the job queue worker, and the reconcile sweep. Self-hosted installs
// start here; the apps/ binaries split the same modules per role.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		pos.Module,
		vendors.Module,
		webhook.Module,
		jobqueue.Module,
		loyalty.Module,
		email.Module,
		ingest.Module,
		ratelimit.Module,
		reconcile.Module,

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
