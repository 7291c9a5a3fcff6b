// Package pipeline runs a chat turn through either a vision transcription
// stage followed by an interpretation stage, or a single chat stage.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/imagepipe/pkg/decoder"
	"github.com/papercomputeco/imagepipe/pkg/llm"
	"github.com/papercomputeco/imagepipe/pkg/turn"
	"github.com/papercomputeco/imagepipe/pkg/validator"
)

// Markdown emitted around the two-stage output.
const (
	RecognizedHeading = "## *Recognized text:*\n"
	AnalyzedHeading   = "\n---\n## *Analyzed result:*\n"
)

// Gateway issues streaming requests to the model server.
type Gateway interface {
	Generate(ctx context.Context, req *llm.GenerateRequest) (io.ReadCloser, error)
	Chat(ctx context.Context, req *llm.ChatRequest) (io.ReadCloser, error)
}

// Gate exposes the latest model availability snapshot.
type Gate interface {
	Snapshot() validator.Snapshot
	Trigger()
}

// Pipeline orchestrates turns. A Pipeline is safe for concurrent use as long
// as every turn has its own *turn.Turn.
type Pipeline struct {
	config  atomic.Pointer[Config]
	gateway Gateway
	gate    Gate
	decoder *decoder.Decoder
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock replaces the clock used to measure turns.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a Pipeline.
func New(cfg Config, gateway Gateway, gate Gate, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		gateway: gateway,
		gate:    gate,
		decoder: decoder.New(logger.Named("decoder")),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.config.Store(&cfg)
	return p
}

// Reconfigure replaces the settings used by turns started afterwards.
func (p *Pipeline) Reconfigure(cfg Config) {
	p.config.Store(&cfg)
	p.logger.Info("pipeline reconfigured",
		zap.String("vision_model", cfg.VisionModel),
		zap.String("general_model", cfg.GeneralModel),
	)
}

// Config returns the current settings.
func (p *Pipeline) Config() Config {
	return *p.config.Load()
}

// Run returns the output chunks of one turn. Chunks are produced as the
// caller consumes them. Whatever happens, the turn's images are reset once
// the sequence finishes and, unless the turn is a title probe, the last chunk
// reports the elapsed time.
func (p *Pipeline) Run(ctx context.Context, t *turn.Turn) iter.Seq[string] {
	return func(yield func(string) bool) {
		cfg := p.Config()

		if t.Title {
			p.logger.Debug("title generation probe")
			t.Reset()
			yield(cfg.Name)
			return
		}

		out := &emitter{yield: yield}
		start := p.now()

		defer func() {
			r := recover()
			t.Reset()
			if r != nil && out.stopped {
				// The panic came from the consumer.
				panic(r)
			}
			if r != nil {
				p.logger.Error("turn panicked", zap.Any("panic", r))
				out.emit(errorChunk(fmt.Errorf("%v", r)))
			}

			elapsed := p.now().Sub(start)
			p.logger.Info("turn finished", zap.Duration("elapsed", elapsed))
			out.emit(elapsedChunk(elapsed))
		}()

		if snap := p.gate.Snapshot(); snap.Failed() {
			p.gate.Trigger()
			err := llm.ValidationError{Problems: snap.Problems}
			p.logger.Warn("turn rejected by model validation", zap.Strings("problems", snap.Problems))
			out.emit(errorChunk(err))
			return
		}

		var err error
		if t.HasImages() {
			err = p.runTwoStage(ctx, cfg, t, out)
		} else {
			err = p.runDirect(ctx, cfg, t, out)
		}

		if err != nil {
			p.logger.Error("turn failed", zap.Error(err))
			out.emit(errorChunk(err))
		}
	}
}

// runTwoStage transcribes the images and streams an interpretation of the
// transcription.
func (p *Pipeline) runTwoStage(ctx context.Context, cfg Config, t *turn.Turn, out *emitter) error {
	start := p.now()

	body, err := p.gateway.Generate(ctx, &llm.GenerateRequest{
		Model:     cfg.VisionModel,
		Prompt:    cfg.VisionDirective,
		Images:    t.Images(),
		Stream:    true,
		Options:   cfg.options(cfg.VisionTemperature),
		KeepAlive: cfg.keepAlive(),
	})
	if err != nil {
		return fmt.Errorf("vision stage: %w", err)
	}

	if !out.emit(RecognizedHeading) {
		body.Close()
		return nil
	}

	transcription, err := p.relay(body, out)
	if err != nil {
		return fmt.Errorf("vision stage: %w", err)
	}
	if out.stopped {
		return nil
	}

	p.logger.Info("vision stage complete",
		zap.String("model", cfg.VisionModel),
		zap.Int("images", len(t.Images())),
		zap.Int("transcription_length", len(transcription)),
		zap.Duration("elapsed", p.now().Sub(start)),
	)

	if !out.emit(AnalyzedHeading) {
		return nil
	}

	body, err = p.gateway.Generate(ctx, &llm.GenerateRequest{
		Model:     cfg.GeneralModel,
		Prompt:    turn.AssemblePrompt(t.UserMessage, cfg.directives(), transcription),
		Stream:    true,
		Options:   cfg.options(cfg.GeneralTemperature),
		KeepAlive: cfg.keepAlive(),
	})
	if err != nil {
		return fmt.Errorf("general stage: %w", err)
	}

	if _, err := p.relay(body, out); err != nil {
		return fmt.Errorf("general stage: %w", err)
	}
	return nil
}

// runDirect sends the flattened conversation to the chat endpoint.
func (p *Pipeline) runDirect(ctx context.Context, cfg Config, t *turn.Turn, out *emitter) error {
	messages := turn.Flatten(t.Messages)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: t.UserMessage})

	body, err := p.gateway.Chat(ctx, &llm.ChatRequest{
		Model:     cfg.GeneralModel,
		Messages:  messages,
		Stream:    true,
		Options:   cfg.options(cfg.GeneralTemperature),
		KeepAlive: cfg.keepAlive(),
	})
	if err != nil {
		return fmt.Errorf("chat stage: %w", err)
	}

	if t.Streaming() {
		if _, err := p.relay(body, out); err != nil {
			return fmt.Errorf("chat stage: %w", err)
		}
		return nil
	}

	buffered := &emitter{yield: func(string) bool { return true }}
	text, err := p.relay(body, buffered)
	if err != nil {
		return fmt.Errorf("chat stage: %w", err)
	}
	out.emit(text)
	return nil
}

// relay forwards decoded chunks of body to out and returns everything that
// was decoded. body is closed on return.
func (p *Pipeline) relay(body io.ReadCloser, out *emitter) (string, error) {
	defer body.Close()

	var text strings.Builder
	for chunk, err := range p.decoder.Chunks(body) {
		if err != nil {
			return text.String(), err
		}
		text.WriteString(chunk)
		if !out.emit(chunk) {
			break
		}
	}
	return text.String(), nil
}

// Collect drains a turn's chunks into one string.
func Collect(chunks iter.Seq[string]) string {
	var b strings.Builder
	for chunk := range chunks {
		b.WriteString(chunk)
	}
	return b.String()
}

func errorChunk(err error) string {
	return "Error occurred: " + err.Error()
}

func elapsedChunk(d time.Duration) string {
	return fmt.Sprintf("\n \n*Response received in: %ds*", int(d.Seconds()))
}

// emitter guards a yield function so nothing is yielded once the consumer
// stopped, including when yield panicked.
type emitter struct {
	yield   func(string) bool
	stopped bool
}

func (e *emitter) emit(chunk string) bool {
	if e.stopped {
		return false
	}
	e.stopped = true
	if e.yield(chunk) {
		e.stopped = false
	}
	return !e.stopped
}
