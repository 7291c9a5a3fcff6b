// Package setup wires imagepipe components from a loaded configuration.
package setup

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/imagepipe/pkg/config"
	"github.com/papercomputeco/imagepipe/pkg/gateway"
	"github.com/papercomputeco/imagepipe/pkg/pipeline"
	"github.com/papercomputeco/imagepipe/pkg/validator"
)

// Components are the long-lived parts of a running pipeline.
type Components struct {
	Gateway   *gateway.Client
	Validator *validator.Validator
	Pipeline  *pipeline.Pipeline
}

// New builds the components for cfg.
func New(cfg config.Config, logger *zap.Logger) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	gw, err := gateway.New(gateway.Config{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.RequestTimeout.Duration,
	}, logger.Named("gateway"))
	if err != nil {
		return nil, fmt.Errorf("could not create model gateway: %w", err)
	}

	v := validator.New(gw, Models(cfg), logger.Named("validator"),
		validator.WithRetryInterval(cfg.ValidationRetry.Duration),
	)

	p := pipeline.New(Pipeline(cfg), gw, v, logger.Named("pipeline"))

	return &Components{
		Gateway:   gw,
		Validator: v,
		Pipeline:  p,
	}, nil
}

// Reconfigure applies a reloaded configuration to running components.
// Connection settings need a restart; everything else applies to the next turn.
func (c *Components) Reconfigure(cfg config.Config) {
	c.Pipeline.Reconfigure(Pipeline(cfg))
	c.Validator.Reconfigure(Models(cfg))
}

// Pipeline maps cfg to pipeline settings.
func Pipeline(cfg config.Config) pipeline.Config {
	return pipeline.Config{
		Name:               cfg.PipelineName,
		VisionModel:        cfg.VisionModel,
		VisionDirective:    cfg.VisionDirective,
		VisionTemperature:  cfg.VisionTemperature,
		GeneralModel:       cfg.GeneralModel,
		GeneralDirective:   cfg.GeneralDirective,
		GeneralTemperature: cfg.GeneralTemperature,
		DefaultSentinel:    cfg.DefaultSentinel,
		KeepAlive:          cfg.KeepAlive.Duration,
		ContextSize:        cfg.ContextSize,
	}
}

// Models maps cfg to the identifiers the validator checks.
func Models(cfg config.Config) validator.Models {
	return validator.Models{Vision: cfg.VisionModel, General: cfg.GeneralModel}
}
