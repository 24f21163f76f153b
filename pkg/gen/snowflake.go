package gen

import (
	"habitcore/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("snowflake", fx.Provide(NewNode))

// NewNode builds the id generator for this process; ENGINE.NODE_ID must be
// unique per running worker.
func NewNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.Engine.NodeID)
}
