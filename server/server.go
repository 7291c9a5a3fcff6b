// Package server exposes the pipeline to a host chat application over HTTP.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/papercomputeco/imagepipe/pkg/llm"
	"github.com/papercomputeco/imagepipe/pkg/pipeline"
	"github.com/papercomputeco/imagepipe/pkg/turn"
)

// Server accepts turn requests and streams pipeline output back.
// Every request gets its own turn.Turn, so turns never share image state.
type Server struct {
	config   Config
	pipeline *pipeline.Pipeline
	gate     pipeline.Gate
	logger   *zap.Logger
	app      *fiber.App
}

// New creates a new Server.
func New(config Config, p *pipeline.Pipeline, gate pipeline.Gate, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
	})

	s := &Server{
		config:   config,
		pipeline: p,
		gate:     gate,
		logger:   logger,
		app:      app,
	}

	s.routes(app)
	return s
}

func (s *Server) routes(app *fiber.App) {
	app.Post("/api/pipe", s.handlePipe)
	app.Get("/api/validation", s.handleValidation)

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(map[string]string{"status": "ok"})
	})
}

// Run starts the server on the configured listening address.
func (s *Server) Run() error {
	s.logger.Info("starting pipeline server", zap.String("listen", s.config.ListenAddr))
	return s.app.Listen(s.config.ListenAddr)
}

// RunWithListener starts the server on an existing listener.
func (s *Server) RunWithListener(ln net.Listener) error {
	s.logger.Info("starting pipeline server", zap.String("listen", ln.Addr().String()))
	return s.app.Listener(ln)
}

// Shutdown stops accepting requests and waits for in-flight turns.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// handlePipe runs one turn. Streaming turns are written as ndjson, one
// llm.PipeChunk per line and a final line with done set.
func (s *Server) handlePipe(c *fiber.Ctx) error {
	var req turn.Request
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		s.logger.Error("failed to parse request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: "invalid request body"})
	}

	t := turn.New(req)

	s.logger.Debug("received turn",
		zap.String("model", req.Model),
		zap.Int("message_count", len(req.Messages)),
		zap.Int("images", len(t.Images())),
		zap.Bool("stream", req.Streaming()),
		zap.Bool("title", req.Title),
	)

	if !req.Streaming() {
		text := pipeline.Collect(s.pipeline.Run(c.UserContext(), t))
		return c.JSON(llm.PipeChunk{Content: text, Done: true})
	}

	c.Set("Content-Type", "application/x-ndjson")
	c.Set("Transfer-Encoding", "chunked")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		// The turn outlives the handler, so it is not bound to the fiber context.
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		enc := json.NewEncoder(w)
		for chunk := range s.pipeline.Run(ctx, t) {
			if err := s.writeLine(w, enc, llm.PipeChunk{Content: chunk}); err != nil {
				s.logger.Warn("client went away", zap.Error(err))
				return
			}
		}

		if err := s.writeLine(w, enc, llm.PipeChunk{Done: true}); err != nil {
			s.logger.Warn("client went away", zap.Error(err))
		}
	}))

	return nil
}

func (s *Server) writeLine(w *bufio.Writer, enc *json.Encoder, chunk llm.PipeChunk) error {
	if err := enc.Encode(chunk); err != nil {
		return err
	}
	return w.Flush()
}

// handleValidation returns the latest model availability snapshot.
func (s *Server) handleValidation(c *fiber.Ctx) error {
	snap := s.gate.Snapshot()
	if snap.Problems == nil {
		snap.Problems = []string{}
	}
	return c.JSON(snap)
}
