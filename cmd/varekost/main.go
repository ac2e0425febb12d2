package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/nordbooks/varekost/internal/clock"
	"github.com/nordbooks/varekost/internal/config"
	"github.com/nordbooks/varekost/internal/migration"
	"github.com/nordbooks/varekost/internal/observability"
	"github.com/nordbooks/varekost/internal/server"
	"github.com/nordbooks/varekost/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)

	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
