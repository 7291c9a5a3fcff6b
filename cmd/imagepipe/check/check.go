package checkcmder

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/imagepipe/cmd/imagepipe/setup"
	"github.com/papercomputeco/imagepipe/pkg/config"
	"github.com/papercomputeco/imagepipe/pkg/logger"
	"github.com/papercomputeco/imagepipe/pkg/validator"
)

const checkLongDesc string = `Check that the configured models exist on the model server.

Lists the models the server offers and reports every configured
model that is missing. Exits non-zero when a problem is found.

Examples:
  imagepipe check
  imagepipe check --config ./imagepipe.toml`

const checkShortDesc string = "Check the configured models"

// ErrCheckFailed is returned when the check found at least one problem.
var ErrCheckFailed = errors.New("model check failed")

type checkCommander struct {
	configPath string
	debug      bool
}

func NewCheckCmd() *cobra.Command {
	cmder := &checkCommander{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: checkShortDesc,
		Long:  checkLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().BoolVar(&cmder.debug, "debug", false, "Enable debug logging")

	return cmd
}

func (c *checkCommander) run(ctx context.Context, out io.Writer) error {
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

	snap := components.Validator.Check(ctx)
	report(out, cfg, snap)

	if snap.Failed() {
		return ErrCheckFailed
	}
	return nil
}

func report(out io.Writer, cfg config.Config, snap validator.Snapshot) {
	r := lipgloss.NewRenderer(out)
	title := r.NewStyle().Bold(true)
	ok := r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	bad := r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dim := r.NewStyle().Faint(true)

	fmt.Fprintln(out, title.Render("Model server ")+dim.Render(cfg.BaseURL))
	fmt.Fprintf(out, "  vision  %s\n", cfg.VisionModel)
	fmt.Fprintf(out, "  general %s\n", cfg.GeneralModel)

	if !snap.Failed() {
		fmt.Fprintln(out, ok.Render("✓ all models available"))
		return
	}
	for _, problem := range snap.Problems {
		fmt.Fprintln(out, bad.Render("✗ ")+problem)
	}
}
