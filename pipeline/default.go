package pipeline

import (
	"github.com/Skryldev/image-optimizer/analyze"
	"github.com/Skryldev/image-optimizer/codec"
	"github.com/Skryldev/image-optimizer/config"
	"github.com/Skryldev/image-optimizer/core"
)

// Default assembles the standard per-item pipeline:
//
//	validate → decode → orient → plan → render → analyze → encode → compress → convert
func Default(c *codec.Context, cfg config.Config, log core.Logger) *Pipeline {
	reg := c.Registry()
	return New().Use(
		&ValidateStep{Registry: reg, MaxFileBytes: cfg.MaxFileBytes},
		&DecodeStep{Registry: reg},
		&OrientStep{},
		&PlanStep{},
		&RenderStep{},
		&AnalyzeStep{Codec: c, Analyzer: analyze.New(cfg.Analyzer.Stride)},
		&EncodeStep{Codec: c, Logger: log},
		&CompressStep{Codec: c, Logger: log},
		&ConvertStep{Codec: c},
	)
}
