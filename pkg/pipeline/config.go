package pipeline

import (
	"time"

	"github.com/papercomputeco/imagepipe/pkg/llm"
	"github.com/papercomputeco/imagepipe/pkg/turn"
)

// Config holds the settings a turn is run with.
type Config struct {
	// Name is returned verbatim to title generation probes.
	Name string

	VisionModel       string
	VisionDirective   string
	VisionTemperature float64

	GeneralModel       string
	GeneralDirective   string
	GeneralTemperature float64

	// DefaultSentinel is the user input that selects GeneralDirective.
	DefaultSentinel string

	// KeepAlive hints how long the server keeps a model loaded. Zero leaves
	// the server default.
	KeepAlive time.Duration

	// ContextSize sets num_ctx on both stages when positive.
	ContextSize int
}

func (c Config) directives() turn.Directives {
	return turn.Directives{Sentinel: c.DefaultSentinel, Default: c.GeneralDirective}
}

func (c Config) keepAlive() string {
	if c.KeepAlive <= 0 {
		return ""
	}
	return c.KeepAlive.String()
}

func (c Config) options(temperature float64) *llm.Options {
	return &llm.Options{
		Temperature: llm.Float(temperature),
		NumCtx:      c.ContextSize,
	}
}
