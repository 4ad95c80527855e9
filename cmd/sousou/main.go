package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sousou/internal/clock"
	"github.com/smallbiznis/sousou/internal/config"
	"github.com/smallbiznis/sousou/internal/migration"
	"github.com/smallbiznis/sousou/internal/observability"
	"github.com/smallbiznis/sousou/internal/server"
	"github.com/smallbiznis/sousou/pkg/db"
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

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
