package askcmder

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/papercomputeco/imagepipe/cmd/imagepipe/setup"
	"github.com/papercomputeco/imagepipe/pkg/config"
	"github.com/papercomputeco/imagepipe/pkg/llm"
	"github.com/papercomputeco/imagepipe/pkg/logger"
	"github.com/papercomputeco/imagepipe/pkg/pipeline"
	"github.com/papercomputeco/imagepipe/pkg/turn"
)

const askLongDesc string = `Run a single turn through the pipeline.

With one or more --image files the turn takes the two-stage path: the
vision model transcribes the images and the general purpose model
interprets the transcription. Without images the text goes straight to
the general purpose model. Leaving out the text uses the configured
default instruction.

Examples:
  imagepipe ask --image receipt.png "What is the total?"
  imagepipe ask --image page1.jpg --image page2.jpg
  imagepipe ask --render "Summarize the plot of Hamlet"`

const askShortDesc string = "Run a single turn through the pipeline"

type askCommander struct {
	configPath string
	images     []string
	render     bool
	check      bool
	debug      bool
}

func NewAskCmd() *cobra.Command {
	cmder := &askCommander{}

	cmd := &cobra.Command{
		Use:   "ask [text]",
		Short: askShortDesc,
		Long:  askLongDesc,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd.OutOrStdout(), strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().StringSliceVarP(&cmder.images, "image", "i", nil, "Image file to attach (repeatable)")
	cmd.Flags().BoolVar(&cmder.render, "render", false, "Render the answer as markdown when writing to a terminal")
	cmd.Flags().BoolVar(&cmder.check, "check", false, "Check the configured models before running")
	cmd.Flags().BoolVar(&cmder.debug, "debug", false, "Enable debug logging")

	return cmd
}

func (c *askCommander) run(ctx context.Context, out io.Writer, text string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}

	log := zap.NewNop()
	if c.debug || cfg.Debug {
		log = logger.NewLogger(true, cfg.Color)
		defer log.Sync()
	}

	components, err := setup.New(cfg, log)
	if err != nil {
		return err
	}
	if c.check {
		components.Validator.Check(ctx)
	}

	req, err := c.request(text, cfg.DefaultSentinel)
	if err != nil {
		return err
	}

	chunks := components.Pipeline.Run(ctx, turn.New(req))

	if c.render && isTerminal(out) {
		rendered, err := renderMarkdown(pipeline.Collect(chunks), terminalWidth(out))
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, rendered)
		return err
	}

	for chunk := range chunks {
		if _, err := io.WriteString(out, chunk); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(out)
	return err
}

func (c *askCommander) request(text, sentinel string) (turn.Request, error) {
	if text == "" && len(c.images) == 0 {
		return turn.Request{}, errors.New("nothing to ask: give some text or an --image")
	}
	if text == "" {
		text = sentinel
	}

	req := turn.Request{UserMessage: text}
	if len(c.images) == 0 {
		return req, nil
	}

	blocks := []llm.ContentBlock{llm.TextBlock(text)}
	for _, path := range c.images {
		uri, err := dataURI(path)
		if err != nil {
			return turn.Request{}, err
		}
		blocks = append(blocks, llm.ImageBlock(uri))
	}
	req.Messages = []llm.ChatMessage{{Role: llm.RoleUser, Content: llm.BlockContent(blocks...)}}
	return req, nil
}

// dataURI reads an image file and encodes it as a base64 data URI.
func dataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("could not read image: %w", err)
	}

	mediaType := http.DetectContentType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	}
	mediaType, _, _ = strings.Cut(mediaType, ";")
	if !strings.HasPrefix(mediaType, "image/") {
		return "", fmt.Errorf("%s does not look like an image", path)
	}

	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(out io.Writer) int {
	if f, ok := out.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return 80
}

func renderMarkdown(text string, width int) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("could not create markdown renderer: %w", err)
	}
	return renderer.Render(text)
}
